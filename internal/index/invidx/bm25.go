// Package invidx implements a BM25-scored inverted index over tokenized text.
package invidx

import (
	"math"
	"sort"
	"sync"
)

// BM25 parameters.
const (
	bm25K1 = 1.2  // term frequency saturation
	bm25B  = 0.75 // document length normalization
)

// Hit is one text search result.
type Hit struct {
	ID    string
	Score float64
}

type posting struct {
	DocNum uint32 `msgpack:"d"`
	TF     uint32 `msgpack:"t"`
}

type termState struct {
	Postings []posting `msgpack:"p"`
	IDF      float64   `msgpack:"i"`
}

// Index is a BM25 inverted index. A single RWMutex gives many concurrent
// readers and exclusive writers over the posting lists.
type Index struct {
	mu sync.RWMutex

	documents  map[string]string
	docIDToNum map[string]uint32
	docNumToID []string
	docLengths []uint32

	terms map[string]*termState

	docCount       int
	totalDocLength int64
	avgDocLength   float64
}

// New creates an empty inverted index.
func New() *Index {
	return &Index{
		documents:  make(map[string]string),
		docIDToNum: make(map[string]uint32),
		terms:      make(map[string]*termState),
	}
}

// Len returns the number of indexed documents.
func (f *Index) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.docCount
}

// Contains reports whether id is indexed.
func (f *Index) Contains(id string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.documents[id]
	return ok
}

// Text returns the indexed text for id.
func (f *Index) Text(id string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	text, ok := f.documents[id]
	return text, ok
}

// Index adds or replaces the text for id. Text that tokenizes to nothing is
// still registered as a document with no postings, so the document count
// stays in step with the record store.
func (f *Index) Index(id, text string) {
	if id == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.removeLocked(id)

	tokens := Tokenize(text)

	docNum, ok := f.docIDToNum[id]
	if !ok {
		docNum = uint32(len(f.docNumToID))
		f.docIDToNum[id] = docNum
		f.docNumToID = append(f.docNumToID, id)
		f.docLengths = append(f.docLengths, 0)
	}

	f.documents[id] = text
	f.docLengths[docNum] = uint32(len(tokens))
	f.docCount++
	f.totalDocLength += int64(len(tokens))

	if len(tokens) > 0 {
		termFreq := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			termFreq[tok]++
		}
		for term, tf := range termFreq {
			st, exists := f.terms[term]
			if !exists {
				st = &termState{}
				f.terms[term] = st
			}
			st.Postings = append(st.Postings, posting{DocNum: docNum, TF: uint32(tf)})
		}
	}

	f.refreshStatsLocked()
}

// Remove deletes id from the index. Removing an absent id is a no-op.
func (f *Index) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeLocked(id) {
		f.refreshStatsLocked()
	}
}

func (f *Index) removeLocked(id string) bool {
	text, ok := f.documents[id]
	if !ok {
		return false
	}
	docNum := f.docIDToNum[id]

	seen := make(map[string]struct{})
	for _, tok := range Tokenize(text) {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		st := f.terms[tok]
		if st == nil {
			continue
		}
		dst := st.Postings[:0]
		for _, p := range st.Postings {
			if p.DocNum != docNum {
				dst = append(dst, p)
			}
		}
		st.Postings = dst
		if len(st.Postings) == 0 {
			delete(f.terms, tok)
		}
	}

	delete(f.documents, id)
	delete(f.docIDToNum, id)
	f.docNumToID[docNum] = ""
	f.totalDocLength -= int64(f.docLengths[docNum])
	f.docLengths[docNum] = 0
	f.docCount--
	return true
}

// refreshStatsLocked recomputes the average document length and every term's
// IDF. IDF depends on the total document count, so it must follow any
// mutation.
func (f *Index) refreshStatsLocked() {
	if f.docCount > 0 {
		f.avgDocLength = float64(f.totalDocLength) / float64(f.docCount)
	} else {
		f.avgDocLength = 0
	}
	for _, st := range f.terms {
		st.IDF = f.idfLocked(len(st.Postings))
	}
}

func (f *Index) idfLocked(df int) float64 {
	if df <= 0 || f.docCount <= 0 {
		return 0
	}
	n := float64(f.docCount)
	d := float64(df)
	idf := math.Log(1 + (n-d+0.5)/(d+0.5))
	if idf < 0 {
		return 0
	}
	return idf
}

// Search scores documents matching the query terms with BM25 and returns up
// to limit hits by descending score. Ties are broken by id ascending so
// rankings are reproducible.
func (f *Index) Search(query string, limit int) []Hit {
	if limit <= 0 {
		return nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.docCount == 0 || f.avgDocLength <= 0 {
		return nil
	}
	queryTerms := Tokenize(query)
	if len(queryTerms) == 0 {
		return nil
	}

	// Duplicate query terms score once per occurrence, like repeated terms
	// in a lexical query.
	scores := make(map[uint32]float64, 64)
	for _, term := range queryTerms {
		st := f.terms[term]
		if st == nil {
			continue
		}
		for _, p := range st.Postings {
			docLen := f.docLengths[p.DocNum]
			if docLen == 0 {
				continue
			}
			tf := float64(p.TF)
			numerator := tf * (bm25K1 + 1)
			denominator := tf + bm25K1*(1-bm25B+bm25B*(float64(docLen)/f.avgDocLength))
			scores[p.DocNum] += st.IDF * (numerator / denominator)
		}
	}
	if len(scores) == 0 {
		return nil
	}

	hits := make([]Hit, 0, len(scores))
	for docNum, score := range scores {
		id := f.docNumToID[docNum]
		if id == "" {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
