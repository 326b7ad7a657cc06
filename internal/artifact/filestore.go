package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

// Publish writes the artifact to a temp file and renames it into place. The
// rename is what makes the handle fetchable, so an interrupted publish never
// leaves a readable handle behind.
func (fs *FileStore) Publish(ctx context.Context, runID int64, r io.Reader) (Handle, error) {
	tmp, err := os.CreateTemp(fs.dir, "publish-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), r); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	h := Handle(fmt.Sprintf("run%d-%s", runID, hex.EncodeToString(hasher.Sum(nil))[:16]))
	if err := os.Rename(tmp.Name(), filepath.Join(fs.dir, string(h))); err != nil {
		return "", err
	}
	return h, nil
}

func (fs *FileStore) Fetch(ctx context.Context, h Handle) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(fs.dir, string(h)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}
