// Package engine runs the interactive session loop: one goroutine owns the
// session, consuming a single ordered channel of input lines, dispatching
// commands and model queries.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	actMarker = "act"
	ackMarker = "ai_ack"
)

// BusyFlag exposes the engine's busy state to external processes through
// marker files in the runtime directory. While a query is in flight an "act"
// file exists; when it finishes the act file is removed and an "ai_ack" file
// is written so recorders know the answer landed.
type BusyFlag struct {
	actPath string
	ackPath string
}

func NewBusyFlag(runtimeDir string) *BusyFlag {
	return &BusyFlag{
		actPath: filepath.Join(runtimeDir, actMarker),
		ackPath: filepath.Join(runtimeDir, ackMarker),
	}
}

// Acquire raises the busy marker and returns the release function. Release
// is safe to call exactly once; the engine defers it around each query.
func (b *BusyFlag) Acquire() (release func(), err error) {
	if err := os.MkdirAll(filepath.Dir(b.actPath), 0o755); err != nil {
		return nil, fmt.Errorf("create runtime dir: %w", err)
	}
	os.Remove(b.ackPath)
	if err := os.WriteFile(b.actPath, []byte("1"), 0o644); err != nil {
		return nil, fmt.Errorf("raise busy marker: %w", err)
	}
	return func() {
		os.Remove(b.actPath)
		os.WriteFile(b.ackPath, []byte("OK"), 0o644)
	}, nil
}

// Active reports whether the busy marker is currently raised.
func (b *BusyFlag) Active() bool {
	_, err := os.Stat(b.actPath)
	return err == nil
}
