// Package blob stores uploaded chat images and returns the URL they are
// served from.
package blob

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/teris-io/shortid"
)

const (
	MaxSize = 5 << 20
	// sniffLen is the number of bytes http.DetectContentType considers.
	sniffLen = 512
)

var (
	ErrTooLarge        = errors.New("image exceeds the 5MB limit")
	ErrUnsupportedType = errors.New("only jpeg, png, gif and webp images are allowed")
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type Store interface {
	Save(r io.Reader) (string, error)
}

// DiskStore writes images into dir under short random names. The returned
// URL is the name joined to urlPrefix.
type DiskStore struct {
	dir       string
	urlPrefix string
	maxSize   int64
	sid       *shortid.Shortid
}

func NewDiskStore(dir, urlPrefix string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	sid, err := shortid.New(1, shortid.DefaultABC, uint64(time.Now().UnixNano()))
	if err != nil {
		return nil, fmt.Errorf("init id generator: %w", err)
	}

	return &DiskStore{
		dir:       dir,
		urlPrefix: urlPrefix,
		maxSize:   MaxSize,
		sid:       sid,
	}, nil
}

func (ds *DiskStore) Dir() string {
	return ds.dir
}

// Save validates the image by its content, not its declared type, and
// writes it to disk.
func (ds *DiskStore) Save(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, ds.maxSize+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > ds.maxSize {
		return "", ErrTooLarge
	}

	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	ext, ok := extensions[http.DetectContentType(head)]
	if !ok {
		return "", ErrUnsupportedType
	}

	id, err := ds.sid.Generate()
	if err != nil {
		return "", fmt.Errorf("generate name: %w", err)
	}
	name := id + ext

	f, err := os.OpenFile(filepath.Join(ds.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create image file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}

	return path.Join(ds.urlPrefix, name), nil
}
