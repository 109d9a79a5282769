// Package connectors declares the contract every chat platform
// integration satisfies. A connector runs until its context is
// cancelled and is responsible for feeding conversation history and
// analysis triggers into the rest of the system.
package connectors

import "context"

type Connector interface {
	Name() string
	Start(ctx context.Context) error
}
