package history

import (
	"context"

	"github.com/loykin/mcpgate/internal/store"
)

// StoreSink records events into the gateway's own store, so the management
// API can expose per-server crash history.
type StoreSink struct {
	St store.Store
}

func (s StoreSink) Send(ctx context.Context, e Event) error {
	return s.St.RecordEvent(ctx, store.EventRecord{
		ServerID:   e.ServerID,
		Event:      string(e.Type),
		PID:        e.PID,
		Detail:     e.Detail,
		OccurredAt: e.OccurredAt,
	})
}
