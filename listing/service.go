// Package listing serves cached folder listings in front of the upstream API.
package listing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/shahidsiddiqui786/photoselect/cache"
	"github.com/shahidsiddiqui786/photoselect/drive"
	"github.com/shahidsiddiqui786/photoselect/rotator"
)

const DefaultTTL = 5 * time.Minute

// ErrNoKeys is returned when the key pool is empty.
var ErrNoKeys = errors.New("no upstream api keys configured")

// Lister lists the photos of one folder with the given credential.
type Lister interface {
	ListPhotos(ctx context.Context, folderID, apiKey string, recursive bool) ([]drive.Photo, error)
}

// CacheData is the value stored per listing.
type CacheData struct {
	Photos    []drive.Photo
	FetchedAt time.Time
}

type Result struct {
	FolderID  string
	Photos    []drive.Photo
	Cached    bool
	FetchedAt time.Time
}

type Options struct {
	TTL    time.Duration
	Logger *slog.Logger
	Now    func() time.Time
}

type Service struct {
	lister  Lister
	keys    *rotator.Rotator
	cache   *cache.Cache[CacheData]
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time
	flights singleflight.Group

	// generation is bumped by Invalidate; a flight that started under an
	// older generation does not write its result back.
	generation atomic.Uint64
}

func NewService(lister Lister, keys *rotator.Rotator, c *cache.Cache[CacheData], opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		lister: lister,
		keys:   keys,
		cache:  c,
		ttl:    opts.TTL,
		logger: opts.Logger,
		now:    opts.Now,
	}
}

// CacheKey is the cache key of one listing. Flat and recursive listings of
// the same folder are stored separately.
func CacheKey(folderID string, recursive bool) string {
	mode := "flat"
	if recursive {
		mode = "recursive"
	}
	return "listing:" + folderID + ":" + mode
}

// Fetch returns the listing for folderRef, from cache when present.
func (s *Service) Fetch(ctx context.Context, folderRef string, recursive bool) (*Result, error) {
	folderID, err := drive.ParseFolderRef(folderRef)
	if err != nil {
		return nil, err
	}

	key := CacheKey(folderID, recursive)
	if data, ok := s.cache.Get(key); ok {
		return &Result{FolderID: folderID, Photos: data.Photos, Cached: true, FetchedAt: data.FetchedAt}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// the shared fetch outlives any single caller; each caller only stops
	// waiting when its own context ends
	flightCtx := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(key, func() (any, error) {
		// a flight that finished between the lookup above and here already
		// filled the entry
		if data, ok := s.cache.Get(key); ok {
			return flight{data: data, cached: true}, nil
		}
		gen := s.generation.Load()
		photos, err := s.listWithRetry(flightCtx, folderID, recursive)
		if err != nil {
			return nil, err
		}
		data := CacheData{Photos: photos, FetchedAt: s.now()}
		if s.generation.Load() == gen {
			s.cache.SetWithTTL(key, data, s.ttl)
		}
		return flight{data: data}, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		s.logger.Debug("listing fetch shared", "folder_id", folderID, "recursive", recursive)
	}

	f := res.Val.(flight)
	return &Result{FolderID: folderID, Photos: f.data.Photos, Cached: f.cached, FetchedAt: f.data.FetchedAt}, nil
}

type flight struct {
	data   CacheData
	cached bool
}

// listWithRetry retries once with a fresh key when the first one is
// throttled. Any other error is returned as is.
func (s *Service) listWithRetry(ctx context.Context, folderID string, recursive bool) ([]drive.Photo, error) {
	apiKey, ok := s.keys.LeastUsedKey()
	if !ok {
		return nil, ErrNoKeys
	}

	photos, err := s.lister.ListPhotos(ctx, folderID, apiKey, recursive)
	if err == nil {
		return photos, nil
	}
	if !errors.Is(err, drive.ErrRateLimited) {
		return nil, fmt.Errorf("list folder %s: %w", folderID, err)
	}

	s.keys.MarkRateLimited(apiKey)
	s.logger.Warn("listing throttled, retrying with another key",
		"folder_id", folderID, "key", rotator.MaskKey(apiKey))

	apiKey, _ = s.keys.LeastUsedKey()
	photos, err = s.lister.ListPhotos(ctx, folderID, apiKey, recursive)
	if err != nil {
		if errors.Is(err, drive.ErrRateLimited) {
			s.keys.MarkRateLimited(apiKey)
		}
		return nil, fmt.Errorf("list folder %s: %w", folderID, err)
	}
	return photos, nil
}

// Invalidate drops the cached listing for folderRef and reports whether one
// was present. Fetches already in flight still answer their callers but no
// longer populate the cache.
func (s *Service) Invalidate(folderRef string, recursive bool) (bool, error) {
	folderID, err := drive.ParseFolderRef(folderRef)
	if err != nil {
		return false, err
	}
	key := CacheKey(folderID, recursive)
	s.generation.Add(1)
	s.flights.Forget(key)
	return s.cache.Delete(key), nil
}
