// Package input provides asynchronous producers of candidate input lines.
// Sources never touch session state; they only send lines onto the engine's
// single ordered channel.
package input

import "context"

// Line is one unit of input with its origin attached.
type Line struct {
	Text   string
	Source string
}

// Source is anything that can produce lines asynchronously. Run blocks until
// the context is cancelled or the source is exhausted, sending each line on
// the channel. Implementations must never close the channel; they share it.
type Source interface {
	Name() string
	Run(ctx context.Context, lines chan<- Line) error
}
