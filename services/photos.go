package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"rentcomps/rets"
	"rentcomps/utils"
)

// PhotoSource retrieves single listing photos.
type PhotoSource interface {
	GetObject(ctx context.Context, listingID string, index int) (*rets.Object, error)
}

// Photo is one fetched image and its index within the listing.
type Photo struct {
	Index int
	*rets.Object
}

// PhotoFetcher retrieves listing photos, several at a time.
type PhotoFetcher struct {
	source         PhotoSource
	maxConcurrency int
	rateLimitMs    int
	logger         *utils.Logger
}

func NewPhotoFetcher(source PhotoSource, maxConcurrency, rateLimitMs int, logger *utils.Logger) *PhotoFetcher {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &PhotoFetcher{
		source:         source,
		maxConcurrency: maxConcurrency,
		rateLimitMs:    rateLimitMs,
		logger:         logger,
	}
}

// Fetch returns one photo, or nil when the listing has none at index.
func (p *PhotoFetcher) Fetch(ctx context.Context, listingID string, index int) (*rets.Object, error) {
	return p.source.GetObject(ctx, listingID, index)
}

// FetchAll fetches photos 1..count of a listing through a worker pool.
// Missing photos are skipped. Photos come back in index order; any fetch
// errors are joined and returned with the photos that did succeed.
func (p *PhotoFetcher) FetchAll(ctx context.Context, listingID string, count int) ([]Photo, error) {
	if count <= 0 {
		return nil, nil
	}

	var (
		mu     sync.Mutex
		photos []Photo
		errs   []error
	)
	pool := utils.NewWorkerPool(p.maxConcurrency, p.rateLimitMs)
	for i := 1; i <= count; i++ {
		idx := i
		pool.Submit(func() {
			if ctx.Err() != nil {
				return
			}
			obj, err := p.source.GetObject(ctx, listingID, idx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("photo %s:%d: %w", listingID, idx, err))
				return
			}
			if obj != nil {
				photos = append(photos, Photo{Index: idx, Object: obj})
			}
		})
	}
	pool.Wait()

	sort.Slice(photos, func(i, j int) bool { return photos[i].Index < photos[j].Index })
	p.logger.Info("[photos] %s: fetched %d of %d photos", listingID, len(photos), count)

	if err := errors.Join(errs...); err != nil {
		return photos, err
	}
	return photos, ctx.Err()
}
