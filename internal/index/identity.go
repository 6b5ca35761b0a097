package index

import (
	"bytes"
	"errors"
	"fmt"
	"os"
)

// ErrFileVanished marks a file that disappeared between enumeration and
// stat. Callers treat it as a deletion, not a failure.
var ErrFileVanished = errors.New("file vanished")

// Identity is the cheap change-detection tuple for one file. Two identities
// are equal iff both fields match exactly; content is deliberately not
// hashed.
type Identity struct {
	Mtime int64 // unix nanoseconds
	Size  int64
}

// Stat computes the identity of a live file.
func Stat(path string) (Identity, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Identity{}, fmt.Errorf("%w: %s", ErrFileVanished, path)
		}
		return Identity{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return Identity{Mtime: info.ModTime().UnixNano(), Size: info.Size()}, nil
}

// headProbe is how many leading bytes the append check compares.
const headProbe = 1024

// ReadHead returns up to headProbe leading bytes of the file.
func ReadHead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileVanished, path)
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, headProbe)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return []byte{}, nil
	}
	return buf[:n], nil
}

// HeadCompatible reports whether newHead still starts with oldHead, i.e.
// the file's leading bytes are unchanged and an append-only read of the
// tail is safe.
func HeadCompatible(oldHead, newHead []byte) bool {
	if len(newHead) < len(oldHead) {
		return false
	}
	return bytes.Equal(oldHead, newHead[:len(oldHead)])
}
