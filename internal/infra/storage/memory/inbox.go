package memory

import (
	"context"
	"sync"

	"charterpay/internal/app/reconcile"
)

// Inbox deduplicates callback keys in memory.
type Inbox struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewInbox() *Inbox {
	return &Inbox{seen: make(map[string]struct{})}
}

func (i *Inbox) Seen(ctx context.Context, key string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.seen[key]; ok {
		return true, nil
	}
	i.seen[key] = struct{}{}
	return false, nil
}

var _ reconcile.Inbox = (*Inbox)(nil)
