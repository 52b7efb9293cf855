package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"cassette/internal/audio"
	"cassette/internal/httpclient"
	"cassette/internal/metrics"
	"cassette/internal/queue"
	"cassette/internal/storage"
)

const (
	// readBufferSize is the chunk size between progress reports
	readBufferSize = 64 * 1024
	// maxPrealloc caps how much of an advertised length is allocated up front
	maxPrealloc = 64 << 20
	// DefaultMaxBytes is the payload limit when Options.MaxBytes is zero
	DefaultMaxBytes = 2 << 30
)

// ErrTooLarge is returned when a payload exceeds the configured limit
var ErrTooLarge = errors.New("payload exceeds size limit")

// URLResolver turns a track storage reference into a fetchable URL
type URLResolver interface {
	TrackURL(ctx context.Context, storageDir string) (string, error)
}

// Saver persists fetched payloads
type Saver interface {
	Save(ctx context.Context, rel string, data []byte) (storage.Saved, error)
}

// Options configures the executor
type Options struct {
	Timeout   time.Duration // whole transfer, zero means none
	MaxBytes  int64
	UserAgent string
	EmbedTags bool
}

// Executor runs every transfer on its own goroutine and reports back to the queue.
type Executor struct {
	resolver URLResolver
	saver    Saver
	http     *httpclient.Client
	embed    bool
	timeout  time.Duration
	maxBytes int64
	logger   *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an executor
func New(resolver URLResolver, saver Saver, opts Options, logger *logrus.Logger) *Executor {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		resolver: resolver,
		saver:    saver,
		http:     httpclient.New(httpclient.Config{UserAgent: opts.UserAgent}),
		embed:    opts.EmbedTags,
		timeout:  opts.Timeout,
		maxBytes: opts.MaxBytes,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// transferContext bounds one transfer by the configured timeout
func (e *Executor) transferContext() (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(e.ctx, e.timeout)
	}
	return context.WithCancel(e.ctx)
}

// Close aborts running transfers and waits for their goroutines to report.
func (e *Executor) Close() {
	e.cancel()
	e.wg.Wait()
}

// TransferTrack starts a track transfer and returns immediately.
func (e *Executor) TransferTrack(job queue.TrackJob, r queue.Reporter) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := e.transferContext()
		defer cancel()
		res, err := e.runTrack(ctx, job, r)
		if err != nil {
			r.Interrupt(job.EntityID, err)
			return
		}
		r.Finish(job.EntityID, res)
	}()
}

// TransferCover starts a cover transfer and returns immediately.
func (e *Executor) TransferCover(job queue.CoverJob, r queue.Reporter) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := e.transferContext()
		defer cancel()
		res, err := e.runCover(ctx, job)
		if err != nil {
			r.Interrupt(job.EntityID, err)
			return
		}
		r.Finish(job.EntityID, res)
	}()
}

func (e *Executor) runTrack(ctx context.Context, job queue.TrackJob, r queue.Reporter) (queue.Result, error) {
	start := time.Now()
	log := e.logger.WithFields(logrus.Fields{"entity_id": job.EntityID, "track_id": job.TrackID, "path": job.Path})

	url, err := e.resolver.TrackURL(ctx, job.StorageDir)
	if err != nil {
		return queue.Result{}, fmt.Errorf("resolve url: %w", err)
	}

	data, err := e.fetch(ctx, url, job.Size, func(n int64) { r.Progress(job.EntityID, n) })
	if err != nil {
		return queue.Result{}, err
	}

	info, err := audio.Probe(data)
	switch {
	case errors.Is(err, audio.ErrUnknownFormat):
		return queue.Result{}, fmt.Errorf("fetched %d bytes: %w", len(data), err)
	case err != nil:
		log.WithError(err).Warn("Could not measure track duration")
	}

	if e.embed {
		tagged, err := audio.EmbedTags(data, audio.Tags{
			Title:   job.Tags.Title,
			Artists: job.Tags.Artists,
			Album:   job.Tags.Album,
			Year:    job.Tags.Year,
			Genre:   job.Tags.Genre,
		})
		if err != nil {
			log.WithError(err).Warn("Saving track without tags")
		} else {
			data = tagged
		}
	}

	saved, err := e.saver.Save(ctx, job.Path, data)
	if err != nil {
		return queue.Result{}, fmt.Errorf("save: %w", err)
	}

	elapsed := time.Since(start)
	metrics.TransferDuration.Observe(elapsed.Seconds())
	log.WithFields(logrus.Fields{
		"format":   info.Format,
		"duration": info.Duration.Round(time.Second),
		"bytes":    saved.Bytes,
		"elapsed":  elapsed.Round(time.Millisecond),
	}).Debug("Track transfer complete")

	return queue.Result{Handle: saved.Handle, Bytes: saved.Bytes, Path: saved.Path}, nil
}

func (e *Executor) runCover(ctx context.Context, job queue.CoverJob) (queue.Result, error) {
	data, err := e.fetch(ctx, job.URL, 0, nil)
	if err != nil {
		return queue.Result{}, err
	}
	saved, err := e.saver.Save(ctx, job.Path, data)
	if err != nil {
		return queue.Result{}, fmt.Errorf("save: %w", err)
	}
	return queue.Result{Handle: saved.Handle, Bytes: saved.Bytes, Path: saved.Path}, nil
}

// fetch downloads url into memory, calling progress with the running byte count.
// Payloads larger than the executor's limit fail with ErrTooLarge.
func (e *Executor) fetch(ctx context.Context, url string, sizeHint int64, progress func(int64)) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch: unexpected status %s", resp.Status)
	}

	if resp.ContentLength > e.maxBytes {
		return nil, fmt.Errorf("fetch: %w: %d bytes advertised", ErrTooLarge, resp.ContentLength)
	}
	size := resp.ContentLength
	if size <= 0 {
		size = sizeHint
	}
	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(min(size, maxPrealloc)))
	}

	chunk := make([]byte, readBufferSize)
	var loaded int64
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			loaded += int64(n)
			if loaded > e.maxBytes {
				return nil, fmt.Errorf("fetch: %w", ErrTooLarge)
			}
			buf.Write(chunk[:n])
			if progress != nil {
				progress(loaded)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}
	}

	if resp.ContentLength > 0 && loaded != resp.ContentLength {
		return nil, fmt.Errorf("fetch: got %d of %d bytes", loaded, resp.ContentLength)
	}
	return buf.Bytes(), nil
}
