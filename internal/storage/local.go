// Package storage keeps uploaded workbooks on local disk until a worker imports them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrTooLarge is returned when an upload exceeds the configured limit.
var ErrTooLarge = errors.New("upload exceeds size limit")

// Local stores uploads under a single directory using generated names.
type Local struct {
	dir      string
	maxBytes int64
}

// NewLocal creates dir if needed. maxBytes <= 0 disables the size limit.
func NewLocal(dir string, maxBytes int64) (*Local, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	return &Local{dir: abs, maxBytes: maxBytes}, nil
}

// Dir returns the absolute upload directory.
func (l *Local) Dir() string {
	return l.dir
}

// Save copies r to a new file named after a random uuid, keeping the extension
// of originalName, and returns its path. Partially written files are removed.
func (l *Local) Save(ctx context.Context, originalName string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := uuid.NewString() + strings.ToLower(filepath.Ext(originalName))
	path := filepath.Join(l.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}

	src := r
	if l.maxBytes > 0 {
		src = io.LimitReader(r, l.maxBytes+1)
	}
	written, copyErr := io.Copy(f, src)
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		err = fmt.Errorf("write upload file: %w", copyErr)
	case closeErr != nil:
		err = fmt.Errorf("close upload file: %w", closeErr)
	case l.maxBytes > 0 && written > l.maxBytes:
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// Remove deletes a stored upload. Paths outside the upload directory are refused.
func (l *Local) Remove(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if filepath.Dir(abs) != l.dir {
		return fmt.Errorf("refusing to remove %s outside %s", path, l.dir)
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
