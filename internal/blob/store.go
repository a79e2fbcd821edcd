// Package blob stores uploaded files under generated names and serves them
// back. Stored records refer to blobs as "/uploads/<name>".
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// URLPrefix is the path under which stored blobs are served.
const URLPrefix = "/uploads/"

// sniffLen is how much of an upload http.DetectContentType looks at.
const sniffLen = 512

var (
	// ErrInvalidName is returned for names that could not have been
	// generated by NewName.
	ErrInvalidName = errors.New("invalid blob name")
	// ErrUnsupportedType is returned by Sniff for content that is not one of
	// the accepted image formats.
	ErrUnsupportedType = errors.New("unsupported blob type")
)

// imageExtensions maps each accepted content type to its stored extension.
// SVG is left out since it can carry script.
var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

var namePattern = regexp.MustCompile(`^[0-9a-f]{32}\.(png|jpg|gif|webp)$`)

// Object is an opened blob. The caller closes Body.
type Object struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
}

// Store persists and retrieves blobs by name. A blob's content type is
// derived from its name on both paths.
type Store interface {
	Put(ctx context.Context, name string, r io.Reader, size int64) error
	Get(ctx context.Context, name string) (*Object, error)
}

// Sniff detects the type of r from its first bytes. It returns the type and
// a reader that yields the whole of r again.
func Sniff(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", nil, fmt.Errorf("read blob head: %w", err)
	}
	head = head[:n]

	contentType := http.DetectContentType(head)
	if _, ok := imageExtensions[contentType]; !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	return contentType, io.MultiReader(bytes.NewReader(head), r), nil
}

// NewName returns a random name with the extension for contentType, which
// must be a type Sniff accepts.
func NewName(contentType string) (string, error) {
	ext, ok := imageExtensions[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "") + ext, nil
}

// ContentType returns the type a valid name is served with.
func ContentType(name string) string {
	ext := filepath.Ext(name)
	for contentType, e := range imageExtensions {
		if e == ext {
			return contentType
		}
	}
	return "application/octet-stream"
}

// ValidName reports whether name has the shape produced by NewName.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Reference returns the public reference for name.
func Reference(name string) string {
	return URLPrefix + name
}
