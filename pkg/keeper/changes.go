package keeper

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// ChangeDetector decides whether stored state must be refreshed. The same
// comparison backs the file-stat fast path, the analyze skip, and the
// enqueue predicate.
type ChangeDetector struct{}

// NeedsUpdate reports whether work is required given a stored fingerprint
// and the current one. An empty stored fingerprint means never processed.
func (ChangeDetector) NeedsUpdate(stored, current string, force bool) bool {
	if force {
		return true
	}
	if stored == "" {
		return true
	}
	return stored != current
}

// HashContent fingerprints raw content. The hash changes only when content
// changes; tag-only updates never touch it.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// fileFingerprint encodes the stat identity of a file as mtime_ns:size
func fileFingerprint(mtimeNS, size int64) string {
	return fmt.Sprintf("%d:%d", mtimeNS, size)
}

// statFingerprint stats a path and returns its fingerprint plus raw fields
func statFingerprint(path string) (fp string, mtimeNS, size int64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, 0, err
	}
	mtimeNS = info.ModTime().UnixNano()
	size = info.Size()
	return fileFingerprint(mtimeNS, size), mtimeNS, size, nil
}
