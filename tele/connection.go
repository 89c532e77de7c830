package tele

import "context"

// Connection is a broker session owned by relay connector.
// Publish returns nil only after broker acknowledged the message.
// Errors are ErrPublish kind.
type Connection interface {
	Publish(ctx context.Context, destination string, payload []byte, durable bool) error
	IsClosed() bool
	Close() error
}
