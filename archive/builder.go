// Package archive bundles many remote objects into one zip file.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/zip"
	"golang.org/x/sync/errgroup"

	"github.com/shahidsiddiqui786/photoselect/drive"
	"github.com/shahidsiddiqui786/photoselect/rotator"
)

const (
	DefaultConcurrency = 3
	DefaultMaxObjects  = 500
)

var (
	ErrEmptyRequest    = errors.New("no objects requested")
	ErrTooManyObjects  = errors.New("too many objects requested")
	ErrNothingArchived = errors.New("no object could be archived")
)

// CapacityError reports a request over the object cap.
type CapacityError struct {
	Requested int
	Max       int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%d objects requested, at most %d allowed", e.Requested, e.Max)
}

func (e *CapacityError) Unwrap() error { return ErrTooManyObjects }

// Downloader fetches one object with the given credential.
type Downloader interface {
	Download(ctx context.Context, fileID, apiKey string) (*drive.Object, error)
}

// Progress is reported after every batch.
type Progress struct {
	JobID     string
	Total     int
	Processed int
	Succeeded int
	Failed    int
}

// Metrics receives one event per object: "ok", "retried" or "failed".
type Metrics interface {
	Object(outcome string)
}

type noopMetrics struct{}

func (noopMetrics) Object(string) {}

type Options struct {
	Concurrency int
	MaxObjects  int
	Logger      *slog.Logger
	Metrics     Metrics
	OnProgress  func(Progress)
	Now         func() time.Time
}

type Request struct {
	ObjectIDs []string
	NameHints map[string]string
	Label     string
}

// Entry is one file written to the archive.
type Entry struct {
	ObjectID string
	Name     string
	Size     int
}

type Result struct {
	JobID     string
	Data      []byte
	Succeeded int
	Failed    int
	Entries   []Entry
	FailedIDs []string

	errs *multierror.Error
}

// Err joins the per-object failures, or returns nil when every object made
// it into the archive.
func (r *Result) Err() error {
	return r.errs.ErrorOrNil()
}

type Builder struct {
	downloader  Downloader
	keys        *rotator.Rotator
	concurrency int
	maxObjects  int
	logger      *slog.Logger
	metrics     Metrics
	onProgress  func(Progress)
	now         func() time.Time
}

func NewBuilder(d Downloader, keys *rotator.Rotator, opts Options) *Builder {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.MaxObjects <= 0 {
		opts.MaxObjects = DefaultMaxObjects
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Builder{
		downloader:  d,
		keys:        keys,
		concurrency: opts.Concurrency,
		maxObjects:  opts.MaxObjects,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		onProgress:  opts.OnProgress,
		now:         opts.Now,
	}
}

func (b *Builder) MaxObjects() int { return b.maxObjects }

type fetched struct {
	obj *drive.Object
	err error
}

// Build downloads req.ObjectIDs in sequential batches and returns the finished
// archive. Failed objects are skipped and counted. When nothing succeeds the
// result is returned together with ErrNothingArchived.
func (b *Builder) Build(ctx context.Context, req Request) (*Result, error) {
	total := len(req.ObjectIDs)
	if total == 0 {
		return nil, ErrEmptyRequest
	}
	if total > b.maxObjects {
		return nil, &CapacityError{Requested: total, Max: b.maxObjects}
	}

	res := &Result{JobID: uuid.NewString()}
	logger := b.logger.With("job_id", res.JobID, "label", req.Label)
	logger.Info("archive started", "objects", total)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := newNamer()
	modified := b.now()

	for start := 0; start < total; start += b.concurrency {
		if err := ctx.Err(); err != nil {
			_ = zw.Close()
			return nil, fmt.Errorf("archive %s cancelled: %w", res.JobID, err)
		}

		end := min(start+b.concurrency, total)
		batch := req.ObjectIDs[start:end]
		results := make([]fetched, len(batch))

		var g errgroup.Group
		for i, id := range batch {
			g.Go(func() error {
				obj, err := b.fetch(ctx, id)
				results[i] = fetched{obj: obj, err: err}
				return nil
			})
		}
		_ = g.Wait()

		// input order within the batch keeps the archive layout deterministic
		for i, id := range batch {
			r := results[i]
			if r.err != nil {
				res.Failed++
				res.FailedIDs = append(res.FailedIDs, id)
				res.errs = multierror.Append(res.errs, fmt.Errorf("object %s: %w", id, r.err))
				b.metrics.Object("failed")
				continue
			}

			name := names.assign(id, req.NameHints[id], r.obj.ContentType)
			w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store, Modified: modified})
			if err == nil {
				_, err = w.Write(r.obj.Data)
			}
			if err != nil {
				_ = zw.Close()
				return nil, fmt.Errorf("write archive entry %s: %w", name, err)
			}

			res.Succeeded++
			res.Entries = append(res.Entries, Entry{ObjectID: id, Name: name, Size: len(r.obj.Data)})
			b.metrics.Object("ok")
		}

		if b.onProgress != nil {
			b.onProgress(Progress{
				JobID:     res.JobID,
				Total:     total,
				Processed: end,
				Succeeded: res.Succeeded,
				Failed:    res.Failed,
			})
		}
		logger.Debug("archive batch done", "processed", end, "succeeded", res.Succeeded, "failed", res.Failed)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	res.Data = buf.Bytes()

	if err := res.Err(); err != nil {
		logger.Warn("archive finished with failures", "succeeded", res.Succeeded, "failed", res.Failed, "error", err)
	} else {
		logger.Info("archive finished", "succeeded", res.Succeeded, "bytes", len(res.Data))
	}

	if res.Succeeded == 0 {
		return res, ErrNothingArchived
	}
	return res, nil
}

// fetch downloads one object, retrying once with a fresh key when the first
// key is throttled.
func (b *Builder) fetch(ctx context.Context, id string) (*drive.Object, error) {
	apiKey, ok := b.keys.LeastUsedKey()
	if !ok {
		return nil, errors.New("no upstream api keys configured")
	}

	obj, err := b.downloader.Download(ctx, id, apiKey)
	if err == nil || !errors.Is(err, drive.ErrRateLimited) {
		return obj, err
	}

	b.keys.MarkRateLimited(apiKey)
	b.metrics.Object("retried")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	apiKey, _ = b.keys.LeastUsedKey()
	obj, err = b.downloader.Download(ctx, id, apiKey)
	if err != nil && errors.Is(err, drive.ErrRateLimited) {
		b.keys.MarkRateLimited(apiKey)
	}
	return obj, err
}
