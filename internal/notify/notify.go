// Package notify delivers content batches and administrative messages to
// recipients. The core only depends on Dispatcher; the Telegram
// implementation lives in telegram.go.
package notify

import (
	"context"

	"notewatch/internal/content"
)

// Dispatcher delivers formatted messages. SendBatch is best-effort across
// recipients but must report failure if any delivery failed, so the caller
// can hold back watermark advances and retry the same items next cycle.
type Dispatcher interface {
	SendBatch(ctx context.Context, recipients []int64, batch content.Batch) error
	SendAdmin(ctx context.Context, recipient int64, text string) error
}

// SubscriberBook mutates the persisted subscriber list. The config manager
// implements it; the Telegram bot commands call it.
type SubscriberBook interface {
	AddSubscriber(id int64) error
	RemoveSubscriber(id int64) error
}
