package persidict

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// SegmentDigest is the first n hex characters of the xxhash64 of seg.
func SegmentDigest(seg string, n int) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(seg))[:n]
}

// encodeSegment appends the digest suffix that keeps case-insensitive
// filesystems from merging "A" and "a".
func encodeSegment(seg string, digestLen int) string {
	if digestLen == 0 {
		return seg
	}
	return seg + "_" + SegmentDigest(seg, digestLen)
}

// decodeSegment strips and verifies the digest suffix.
func decodeSegment(name string, digestLen int) (string, bool) {
	if digestLen == 0 {
		return name, name != ""
	}
	i := strings.LastIndexByte(name, '_')
	if i <= 0 {
		return "", false
	}
	seg, dg := name[:i], name[i+1:]
	if SegmentDigest(seg, digestLen) != dg {
		return "", false
	}
	return seg, true
}

func encodePath(base string, segs []string, digestLen int) string {
	parts := make([]string, 0, len(segs)+1)
	parts = append(parts, base)
	for _, s := range segs {
		parts = append(parts, encodeSegment(s, digestLen))
	}
	return filepath.Join(parts...)
}

// writeFileAtomic writes through a hidden temp file in the target directory
// followed by a rename, so readers never observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(dir, ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
}

// removeEmptyParents removes now-empty directories between path and stop.
func removeEmptyParents(path, stop string) {
	stop = filepath.Clean(stop)
	for dir := filepath.Dir(path); dir != stop && strings.HasPrefix(dir, stop); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}
