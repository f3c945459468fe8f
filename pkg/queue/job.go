package queue

import "context"

// Job consumes one message type. Handle receives the raw JSON payload;
// decode it with ParsePayload.
type Job interface {
	Name() string
	Type() string
	Handle(ctx context.Context, payload interface{}) error
}
