// Package fetch downloads splat files in fixed size chunks with a bounded number of chunks in
// flight, exposing the result as an ordered stream.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/pkg/errors"
)

// Source is a random access byte source.
type Source interface {
	// Name describes the source in logs and metrics.
	Name() string
	// Size returns the total number of bytes.
	Size(ctx context.Context) (int64, error)
	// ReadRange fills buf with the bytes starting at off.
	ReadRange(ctx context.Context, off int64, buf []byte) error
}

// FileSource reads chunks of a local file.
type FileSource struct {
	f *os.File
}

// NewFileSource opens path for chunked reading.
func NewFileSource(path string) (*FileSource, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileSource{f: f}, nil
}

// Name returns the file path.
func (s *FileSource) Name() string {
	return s.f.Name()
}

// Size returns the file size.
func (s *FileSource) Size(ctx context.Context) (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ReadRange reads len(buf) bytes at off.
func (s *FileSource) ReadRange(ctx context.Context, off int64, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.f.ReadAt(buf, off)
	return err
}

// Close closes the file.
func (s *FileSource) Close() error {
	return s.f.Close()
}

// HTTPSource reads chunks of a remote file with HTTP range requests.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// NewHTTPSource returns a source for url using the default client.
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{URL: url, Client: http.DefaultClient}
}

// Name returns the URL.
func (s *HTTPSource) Name() string {
	return s.URL
}

// Size issues a HEAD request and returns the content length.
func (s *HTTPSource) Size(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.URL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return 0, err
	}
	//nolint:errcheck
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("HEAD %s: unexpected status %s", s.URL, resp.Status)
	}
	if resp.ContentLength < 0 {
		return 0, errors.Errorf("HEAD %s: missing content length", s.URL)
	}
	return resp.ContentLength, nil
}

// ReadRange requests bytes [off, off+len(buf)) and requires a partial content response.
func (s *HTTPSource) ReadRange(ctx context.Context, off int64, buf []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+int64(len(buf))-1))
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	//nolint:errcheck
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		return errors.Errorf("GET %s range %d+%d: unexpected status %s", s.URL, off, len(buf), resp.Status)
	}
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		return errors.Wrapf(err, "GET %s range %d+%d", s.URL, off, len(buf))
	}
	return nil
}
