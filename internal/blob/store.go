// Package blob keeps uploaded session recordings on local disk.
package blob

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"
)

var (
	ErrTooLarge        = errors.New("recording exceeds size limit")
	ErrUnsupportedType = errors.New("unsupported recording content type")
	ErrEmpty           = errors.New("recording is empty")
)

var allowedContentTypes = map[string]string{
	"audio/webm":  ".webm",
	"audio/mp4":   ".mp4",
	"audio/mpeg":  ".mp3",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/wave":  ".wav",
}

// Object describes a stored recording.
type Object struct {
	Path        string
	ContentType string
	Size        int64
	// Checksum is the hex blake2b-256 of the bytes.
	Checksum string
}

type Store struct {
	dir      string
	maxBytes int64
}

func NewStore(dir string, maxBytes int64) (*Store, error) {
	if dir == "" {
		return nil, errors.New("blob: directory required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("blob: create dir: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

// NormalizeContentType strips parameters ("audio/webm;codecs=opus") and
// rejects anything that is not a supported audio type.
func NormalizeContentType(ct string) (string, error) {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(ct))
	}
	if _, ok := allowedContentTypes[mt]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ct)
	}
	return mt, nil
}

// Put streams r to <dir>/<name><ext>, replacing any earlier recording with
// the same name. Nothing is left behind on error.
func (s *Store) Put(name, contentType string, r io.Reader) (*Object, error) {
	ct, err := NormalizeContentType(contentType)
	if err != nil {
		return nil, err
	}
	dest := filepath.Join(s.dir, filepath.Base(name)+allowedContentTypes[ct])

	f, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, err
	}
	tmp := f.Name()
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		cleanup()
		return nil, err
	}
	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, err := io.Copy(io.MultiWriter(f, h), src)
	if err != nil {
		cleanup()
		return nil, err
	}
	if s.maxBytes > 0 && n > s.maxBytes {
		cleanup()
		return nil, ErrTooLarge
	}
	if n == 0 {
		cleanup()
		return nil, ErrEmpty
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}
	return &Object{
		Path:        dest,
		ContentType: ct,
		Size:        n,
		Checksum:    hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func (s *Store) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
