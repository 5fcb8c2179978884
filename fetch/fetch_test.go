package fetch

import (
	"bytes"
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/splatlod/logging"
)

type memSource struct {
	data    []byte
	delay   time.Duration
	failAt  int64
	mu      sync.Mutex
	active  int
	peak    int
	calls   int
}

func (s *memSource) Name() string { return "mem" }

func (s *memSource) Size(ctx context.Context) (int64, error) {
	return int64(len(s.data)), nil
}

func (s *memSource) ReadRange(ctx context.Context, off int64, buf []byte) error {
	s.mu.Lock()
	s.calls++
	s.active++
	if s.active > s.peak {
		s.peak = s.active
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.failAt > 0 && off == s.failAt {
		return errors.New("boom")
	}
	copy(buf, s.data[off:])
	return nil
}

func (s *memSource) stats() (calls, peak int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, s.peak
}

func randomBytes(n int) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(42)).Read(data) //nolint:gosec
	return data
}

func TestFetcherOrderAndConcurrency(t *testing.T) {
	logger := logging.NewTestLogger(t)
	src := &memSource{data: randomBytes(10000), delay: 5 * time.Millisecond}
	f, err := New(src, Options{ChunkSize: 777, MaxInFlight: 3}, logger)
	test.That(t, err, test.ShouldBeNil)

	got, err := f.ReadAll(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, src.data)

	calls, peak := src.stats()
	test.That(t, calls, test.ShouldEqual, 13)
	test.That(t, peak, test.ShouldBeLessThanOrEqualTo, 3)
	test.That(t, peak, test.ShouldBeGreaterThan, 1)
}

func TestFetcherBackpressure(t *testing.T) {
	logger := logging.NewTestLogger(t)
	src := &memSource{data: randomBytes(100)}
	f, err := New(src, Options{ChunkSize: 10, MaxInFlight: 2}, logger)
	test.That(t, err, test.ShouldBeNil)

	r, err := f.Open(context.Background())
	test.That(t, err, test.ShouldBeNil)
	time.Sleep(50 * time.Millisecond)
	calls, _ := src.stats()
	test.That(t, calls, test.ShouldEqual, 2)

	buf := make([]byte, 10)
	n, err := r.Read(buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 10)
	test.That(t, buf, test.ShouldResemble, src.data[:10])
	test.That(t, r.Close(), test.ShouldBeNil)
	calls, _ = src.stats()
	test.That(t, calls, test.ShouldBeLessThanOrEqualTo, 3)
}

func TestFetcherFailure(t *testing.T) {
	logger := logging.NewTestLogger(t)
	src := &memSource{data: randomBytes(1000), failAt: 400}
	f, err := New(src, Options{ChunkSize: 100, MaxInFlight: 4}, logger)
	test.That(t, err, test.ShouldBeNil)

	_, err = f.ReadAll(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "boom")
	test.That(t, err.Error(), test.ShouldContainSubstring, "400")
}

func TestFetcherCancelled(t *testing.T) {
	logger := logging.NewTestLogger(t)
	src := &memSource{data: randomBytes(1000), delay: time.Second}
	f, err := New(src, Options{ChunkSize: 100}, logger)
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = f.ReadAll(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, context.DeadlineExceeded), test.ShouldBeTrue)
	test.That(t, time.Since(start), test.ShouldBeLessThan, time.Second)
}

func TestFetcherOptions(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := New(&memSource{}, Options{ChunkSize: -1}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = New(&memSource{}, Options{MaxInFlight: -1}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	f, err := New(&memSource{}, Options{}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.opts.ChunkSize, test.ShouldEqual, DefaultChunkSize)
	test.That(t, f.opts.MaxInFlight, test.ShouldEqual, DefaultMaxInFlight)
	got, err := f.ReadAll(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldBeEmpty)
}

func TestFileSource(t *testing.T) {
	logger := logging.NewTestLogger(t)
	data := randomBytes(5000)
	path := filepath.Join(t.TempDir(), "data.bin")
	test.That(t, os.WriteFile(path, data, 0o600), test.ShouldBeNil)

	src, err := NewFileSource(path)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, src.Close(), test.ShouldBeNil)
	}()
	f, err := New(src, Options{ChunkSize: 1024}, logger)
	test.That(t, err, test.ShouldBeNil)
	got, err := f.ReadAll(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, data)

	_, err = NewFileSource(filepath.Join(t.TempDir(), "missing"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestHTTPSource(t *testing.T) {
	logger := logging.NewTestLogger(t)
	data := randomBytes(9000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "scene.spz", time.Time{}, bytes.NewReader(data))
	}))
	defer server.Close()

	f, err := New(NewHTTPSource(server.URL), Options{ChunkSize: 1000, MaxInFlight: 3}, logger)
	test.That(t, err, test.ShouldBeNil)
	got, err := f.ReadAll(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, data)

	noRanges := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "9000")
		if r.Method == http.MethodGet {
			//nolint:errcheck
			w.Write(data)
		}
	}))
	defer noRanges.Close()

	f, err = New(NewHTTPSource(noRanges.URL), Options{ChunkSize: 1000}, logger)
	test.That(t, err, test.ShouldBeNil)
	_, err = f.ReadAll(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unexpected status")

	missing := httptest.NewServer(http.NotFoundHandler())
	defer missing.Close()
	_, err = NewHTTPSource(missing.URL).Size(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
}
