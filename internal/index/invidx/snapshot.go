package invidx

import (
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

const snapshotFormatVersion = "1.0.0"

type indexSnapshot struct {
	Version        string
	Documents      map[string]string
	DocIDToNum     map[string]uint32
	DocNumToID     []string
	DocLengths     []uint32
	Terms          map[string]*termState
	DocCount       int
	TotalDocLength int64
}

// WriteSnapshot serializes the index to w in msgpack format. State is copied
// under the read lock so I/O does not block searches.
func (f *Index) WriteSnapshot(w io.Writer) error {
	f.mu.RLock()
	snap := indexSnapshot{
		Version:        snapshotFormatVersion,
		Documents:      make(map[string]string, len(f.documents)),
		DocIDToNum:     make(map[string]uint32, len(f.docIDToNum)),
		DocNumToID:     append([]string(nil), f.docNumToID...),
		DocLengths:     append([]uint32(nil), f.docLengths...),
		Terms:          make(map[string]*termState, len(f.terms)),
		DocCount:       f.docCount,
		TotalDocLength: f.totalDocLength,
	}
	for k, v := range f.documents {
		snap.Documents[k] = v
	}
	for k, v := range f.docIDToNum {
		snap.DocIDToNum[k] = v
	}
	for term, st := range f.terms {
		snap.Terms[term] = &termState{Postings: append([]posting(nil), st.Postings...), IDF: st.IDF}
	}
	f.mu.RUnlock()

	return msgpack.NewEncoder(w).Encode(&snap)
}

// ReadSnapshot deserializes an index previously written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (*Index, error) {
	var snap indexSnapshot
	if err := msgpack.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode invidx snapshot: %w", err)
	}
	if snap.Version != snapshotFormatVersion {
		return nil, fmt.Errorf("unsupported invidx snapshot version %q", snap.Version)
	}

	f := New()
	if snap.Documents != nil {
		f.documents = snap.Documents
	}
	if snap.DocIDToNum != nil {
		f.docIDToNum = snap.DocIDToNum
	}
	f.docNumToID = snap.DocNumToID
	f.docLengths = snap.DocLengths
	if snap.Terms != nil {
		f.terms = snap.Terms
	}
	f.docCount = snap.DocCount
	f.totalDocLength = snap.TotalDocLength
	f.refreshStatsLocked()
	return f, nil
}
