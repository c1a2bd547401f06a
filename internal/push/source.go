// Package push defines how server pushes reach the client. A Source delivers
// the GraphQL data object of every push for one subscription, in arrival
// order, to a Handler.
package push

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrClosed is returned by a Source when the server ends the stream.
var ErrClosed = errors.New("push stream closed")

// Subscription names a GraphQL subscription and its document.
type Subscription struct {
	Name      string
	Query     string
	Variables map[string]any
}

// Handler receives the data object of one push. Returning an error does not
// end the subscription; the Source logs it and keeps delivering.
type Handler func(ctx context.Context, data json.RawMessage) error

// Source delivers pushes for a subscription. Subscribe blocks until ctx is
// done, in which case it returns nil, or until the stream fails.
type Source interface {
	Subscribe(ctx context.Context, sub Subscription, handle Handler) error
}
