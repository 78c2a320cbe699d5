package control

import (
	"sync"
	"time"
)

// StatusBoard is the pipeline's one-line answer to "what are you doing".
// The pipeline goroutine writes, the control API reads.
type StatusBoard struct {
	mu       sync.RWMutex
	state    string
	archive  string
	since    time.Time
	lastDone time.Time
}

// Snapshot is a point-in-time copy of the board.
type Snapshot struct {
	State    string    `json:"state"` // "idle" or "processing"
	Archive  string    `json:"archive,omitempty"`
	Since    time.Time `json:"since,omitempty"`
	LastDone time.Time `json:"last_done,omitempty"`
}

// NewStatusBoard starts idle.
func NewStatusBoard() *StatusBoard {
	return &StatusBoard{state: "idle"}
}

// SetProcessing marks an archive as in flight.
func (b *StatusBoard) SetProcessing(archive string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = "processing"
	b.archive = archive
	b.since = time.Now().UTC()
}

// SetIdle marks the pipeline as waiting for work.
func (b *StatusBoard) SetIdle() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == "processing" {
		b.lastDone = time.Now().UTC()
	}
	b.state = "idle"
	b.archive = ""
}

// Snapshot returns a copy safe to serialize.
func (b *StatusBoard) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{
		State:    b.state,
		Archive:  b.archive,
		Since:    b.since,
		LastDone: b.lastDone,
	}
}
