package watch

import (
	"context"
	"fmt"

	"notewatch/internal/content"
	"notewatch/pkg/logx"
)

// Fetcher runs the per-category retrieval of one check cycle.
//
// The pagination stopping rule doubles as the freshness filter: pages are
// requested until one is empty or its oldest id no longer exceeds the
// watermark, and whatever was accumulated by then is the category's batch.
// There is no separate filter pass.
type Fetcher struct {
	src content.Source
	log logx.Logger

	// onCategoryError records a single category's retrieval failure; the
	// fetch then continues with the remaining categories.
	onCategoryError func(ctx context.Context, cat content.Category, err error)
}

func NewFetcher(src content.Source, log logx.Logger, onCategoryError func(ctx context.Context, cat content.Category, err error)) *Fetcher {
	if onCategoryError == nil {
		onCategoryError = func(context.Context, content.Category, error) {}
	}
	return &Fetcher{src: src, log: log, onCategoryError: onCategoryError}
}

// FetchAll builds the cycle's batch. A page-1 failure skips just that
// category; a failure on a deeper page (or a panic out of the source) aborts
// the whole fetch, because a partially paginated category would advance the
// watermark past items that were never delivered.
func (f *Fetcher) FetchAll(ctx context.Context, cats []content.Category, lastSeen func(content.Category) uint64) (batch content.Batch, err error) {
	defer func() {
		if r := recover(); r != nil {
			batch = nil
			err = fmt.Errorf("content source panicked: %v", r)
		}
	}()

	batch = content.Batch{}
	for _, cat := range cats {
		last := lastSeen(cat)

		items, ferr := f.src.Fetch(ctx, cat, last, 1)
		if ferr != nil {
			f.log.Warn("category fetch failed", logx.String("category", cat.String()), logx.Err(ferr))
			f.onCategoryError(ctx, cat, ferr)
			continue
		}

		prev := items
		page := 1
		for cat.DeepPaginate() && len(prev) > 0 && prev[len(prev)-1].ID > last {
			page++
			next, nerr := f.src.Fetch(ctx, cat, last, page)
			if nerr != nil {
				return nil, fmt.Errorf("fetch %s page %d: %w", cat, page, nerr)
			}
			if len(next) == 0 {
				break
			}
			items = append(items, next...)
			prev = next
		}

		if len(items) > 0 {
			batch[cat] = items
			f.log.Debug("category has new items",
				logx.String("category", cat.String()),
				logx.Int("items", len(items)),
				logx.Int("pages", page),
				logx.Uint64("watermark", last))
		}
	}
	return batch, nil
}
