package fetch

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"go.viam.com/splatlod/logging"
)

const (
	// DefaultChunkSize is the default number of bytes per request.
	DefaultChunkSize = 1 << 20
	// DefaultMaxInFlight is the default number of chunks fetched or buffered at once.
	DefaultMaxInFlight = 4
)

// Options configure a Fetcher.
type Options struct {
	ChunkSize   int64
	MaxInFlight int
}

// Fetcher streams a Source in order while fetching up to MaxInFlight chunks concurrently.
type Fetcher struct {
	src    Source
	opts   Options
	logger logging.Logger
}

// New returns a fetcher for src.
func New(src Source, opts Options, logger logging.Logger) (*Fetcher, error) {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxInFlight == 0 {
		opts.MaxInFlight = DefaultMaxInFlight
	}
	if opts.ChunkSize < 0 {
		return nil, errors.Errorf("chunk size must be positive, got %d", opts.ChunkSize)
	}
	if opts.MaxInFlight < 0 {
		return nil, errors.Errorf("max in flight must be positive, got %d", opts.MaxInFlight)
	}
	return &Fetcher{src: src, opts: opts, logger: logger}, nil
}

// Open starts fetching and returns a reader that yields the source's bytes in order. Chunks
// are fetched ahead of the reader, but never more than MaxInFlight chunks are fetching or
// waiting to be read. The first failed chunk fails the stream. Close stops all fetching.
func (f *Fetcher) Open(ctx context.Context) (io.ReadCloser, error) {
	size, err := f.src.Size(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "sizing %s", f.src.Name())
	}
	numChunks := int((size + f.opts.ChunkSize - 1) / f.opts.ChunkSize)
	f.logger.Debugw("fetching", "source", f.src.Name(), "size", size, "chunks", numChunks)

	ctx, cancel := context.WithCancel(ctx)
	r := &chunkReader{
		cancel: cancel,
		chunks: make([]chan []byte, numChunks),
		window: make(chan struct{}, f.opts.MaxInFlight),
		done:   make(chan struct{}),
	}
	for i := range r.chunks {
		r.chunks[i] = make(chan []byte, 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.MaxInFlight)
	goutils.PanicCapturingGo(func() {
		defer close(r.done)
		stopped := false
		for i := 0; i < numChunks && !stopped; i++ {
			select {
			case r.window <- struct{}{}:
			case <-gctx.Done():
				stopped = true
				continue
			}
			chunksInFlight.Inc()
			off := int64(i) * f.opts.ChunkSize
			length := min(f.opts.ChunkSize, size-off)
			out := r.chunks[i]
			g.Go(func() error {
				buf := make([]byte, length)
				if err := f.src.ReadRange(gctx, off, buf); err != nil {
					instrumentError(f.src.Name())
					chunksInFlight.Dec()
					return errors.Wrapf(err, "fetching %s bytes %d+%d", f.src.Name(), off, length)
				}
				instrumentChunk(f.src.Name(), len(buf))
				out <- buf
				return nil
			})
		}
		err := g.Wait()
		if err == nil && stopped {
			err = ctx.Err()
		}
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
		if err != nil {
			f.logger.Debugw("fetch stopped", "source", f.src.Name(), "error", err)
		}
	})
	return r, nil
}

// ReadAll fetches the whole source.
func (f *Fetcher) ReadAll(ctx context.Context) (_ []byte, err error) {
	r, err := f.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := r.Close(); err == nil {
			err = closeErr
		}
	}()
	return io.ReadAll(r)
}

type chunkReader struct {
	cancel context.CancelFunc
	chunks []chan []byte
	window chan struct{}
	done   chan struct{}

	mu  sync.Mutex
	err error

	cur  []byte
	next int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.cur) == 0 {
		if r.next == len(r.chunks) {
			return 0, io.EOF
		}
		select {
		case buf := <-r.chunks[r.next]:
			r.take(buf)
		case <-r.done:
			if err := r.failure(); err != nil {
				return 0, err
			}
			select {
			case buf := <-r.chunks[r.next]:
				r.take(buf)
			default:
				return 0, io.ErrUnexpectedEOF
			}
		}
	}
	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}

func (r *chunkReader) take(buf []byte) {
	r.cur = buf
	r.next++
	<-r.window
	chunksInFlight.Dec()
}

func (r *chunkReader) failure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close stops fetching and waits for in flight requests to return.
func (r *chunkReader) Close() error {
	r.cancel()
	<-r.done
	for r.next < len(r.chunks) {
		select {
		case <-r.chunks[r.next]:
			chunksInFlight.Dec()
		default:
		}
		r.next++
	}
	err := r.failure()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
