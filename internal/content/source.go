package content

import "context"

// Source retrieves one page of items for a category. Implementations must
// return items newest-first. afterID is the caller's watermark; sources may
// use it to trim the response but are not required to, the caller applies
// its own stopping rule.
type Source interface {
	Fetch(ctx context.Context, cat Category, afterID uint64, page int) ([]Item, error)
}
