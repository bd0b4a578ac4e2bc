package dedupe

import "context"

// SeenStore durably records identifiers whose run delivered them, so a
// restart does not replay them. Lookups happen before the in-memory
// AcceptOnce filter; marking happens only after every output succeeded.
type SeenStore interface {
	HasSeen(ctx context.Context, id string) (bool, error)
	MarkSeenBatch(ctx context.Context, ids []string) error
	Close() error
}

// Pruner is implemented by stores that expire old entries.
type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// BatchSeenStore is implemented by stores that can answer a whole poll in
// one lookup.
type BatchSeenStore interface {
	SeenStore
	SeenAmong(ctx context.Context, ids []string) (map[string]bool, error)
}

// Unseen drops the ids the store already knows about, keeping input order.
func Unseen(ctx context.Context, store SeenStore, ids []string) ([]string, error) {
	if store == nil || len(ids) == 0 {
		return ids, nil
	}
	out := make([]string, 0, len(ids))
	if batch, ok := store.(BatchSeenStore); ok {
		seen, err := batch.SeenAmong(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if !seen[id] {
				out = append(out, id)
			}
		}
		return out, nil
	}
	for _, id := range ids {
		seen, err := store.HasSeen(ctx, id)
		if err != nil {
			return nil, err
		}
		if !seen {
			out = append(out, id)
		}
	}
	return out, nil
}
