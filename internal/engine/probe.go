package engine

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/chunkforge/chunkdex/internal/store"
)

// SystemProbe reads live disk and memory usage ratios for the admission
// gate. Disk usage is measured on the filesystem holding Path; memory from
// /proc/meminfo. Read failures report zero usage so the node keeps
// admitting writes rather than locking itself out on a probe error.
type SystemProbe struct {
	Path string
}

// Usage implements store.UsageProbe.
func (p *SystemProbe) Usage() store.Usage {
	return store.Usage{
		DiskRatio: diskRatio(p.Path),
		MemRatio:  memRatio(),
	}
}

func diskRatio(path string) float64 {
	if path == "" {
		path = "/"
	}
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil || st.Blocks == 0 {
		return 0
	}
	free := float64(st.Bavail) * float64(st.Bsize)
	total := float64(st.Blocks) * float64(st.Bsize)
	return 1 - free/total
}

func memRatio() float64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	var total, avail float64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			avail = v
		}
	}
	if total == 0 {
		return 0
	}
	return 1 - avail/total
}
