package acebase

import (
	"encoding/binary"
	"os"
	"strconv"
	"strings"
)

// osPageSize reports the host's memory page size.
func osPageSize() int { return os.Getpagesize() }

// Multi-byte integers on disk are always big-endian, per the file layout spec.
// This mirrors the teacher's serializeUint64/deserializeUint64 helpers in
// Serialize.go, but big-endian instead of little-endian to match the wire format.

func putUint16(buf []byte, v uint16) { binary.BigEndian.PutUint16(buf, v) }
func putUint32(buf []byte, v uint32) { binary.BigEndian.PutUint32(buf, v) }
func putUint64(buf []byte, v uint64) { binary.BigEndian.PutUint64(buf, v) }

func getUint16(buf []byte) uint16 { return binary.BigEndian.Uint16(buf) }
func getUint32(buf []byte) uint32 { return binary.BigEndian.Uint32(buf) }
func getUint64(buf []byte) uint64 { return binary.BigEndian.Uint64(buf) }

// pathParent returns the path one level up from p, and "" for a top-level path or the root.
func pathParent(p string) string {
	if p == "" {
		return ""
	}
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return ""
	}
	return p[:idx]
}

// pathKey returns the final segment of p (the key or array index under its parent).
func pathKey(p string) string {
	if p == "" {
		return ""
	}
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}

// pathChild joins a parent path with a child key or array index.
func pathChild(parent string, key string) string {
	if parent == "" {
		return key
	}
	return parent + "/" + key
}

// pathChildIndex joins a parent path with an array index.
func pathChildIndex(parent string, index int) string {
	return pathChild(parent, strconv.Itoa(index))
}

// isDescendantOrEqual reports whether candidate is path itself or lies beneath it.
func isDescendantOrEqual(path, candidate string) bool {
	if candidate == path {
		return true
	}
	if path == "" {
		return true
	}
	return strings.HasPrefix(candidate, path+"/")
}

// isAncestorOrEqual reports whether candidate is path itself or an ancestor of it.
func isAncestorOrEqual(path, candidate string) bool {
	return isDescendantOrEqual(candidate, path)
}

// pathDepth counts path segments; the root path has depth 0.
func pathDepth(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// splitPath returns every segment of p in order.
func splitPath(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// looksNumeric reports whether key parses as a non-negative array index, used by
// the B+tree rebuild fill-factor policy (append-friendly numeric keys get a lower
// fill factor since they are expected to keep growing monotonically).
func looksNumeric(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
