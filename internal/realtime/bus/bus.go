package bus

import (
	"context"

	"github.com/yungbote/arbor-backend/internal/realtime"
)

// Bus fans SSE messages out across instances. Publish sends to every
// instance; StartForwarder feeds received messages into the local hub.
type Bus interface {
	Publish(ctx context.Context, msg realtime.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error
	Close() error
}
