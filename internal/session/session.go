// Package session holds the conversational state of a parley chat.
package session

import (
	"slices"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single immutable entry in the conversation history.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatSession is the full mutable conversational state. It is not safe for
// concurrent use; the engine goroutine is its only writer.
type ChatSession struct {
	history      []Turn
	systemPrompt string
	activeModel  string
	title        string
}

// New creates an empty session bound to the given model.
func New(model string) *ChatSession {
	return &ChatSession{activeModel: model}
}

// History returns a copy of the turn history.
func (s *ChatSession) History() []Turn {
	return slices.Clone(s.history)
}

// Len returns the number of turns in history.
func (s *ChatSession) Len() int {
	return len(s.history)
}

// SystemPrompt returns the current system prompt, "" if unset.
func (s *ChatSession) SystemPrompt() string {
	return s.systemPrompt
}

// SetSystemPrompt updates the system prompt. It affects only future queries;
// a system turn already materialized in history is left as it was.
func (s *ChatSession) SetSystemPrompt(p string) {
	s.systemPrompt = p
}

// ActiveModel returns the model the next query will use.
func (s *ChatSession) ActiveModel() string {
	return s.activeModel
}

// SetActiveModel switches the model. History is unaffected.
func (s *ChatSession) SetActiveModel(name string) {
	s.activeModel = name
}

// Title returns the cached session title, "" if unset.
func (s *ChatSession) Title() string {
	return s.title
}

// SetTitle updates the cached title.
func (s *ChatSession) SetTitle(t string) {
	s.title = t
}

// Clear resets history to empty, preserving system prompt and model.
func (s *ChatSession) Clear() {
	s.history = nil
}

func (s *ChatSession) hasSystemTurn() bool {
	return len(s.history) > 0 && s.history[0].Role == RoleSystem
}

// QueryTurns returns the turn sequence for a backend call: the system turn
// (materialized from the prompt if not yet in history), the existing history,
// and the new user turn. The session itself is not mutated; the exchange is
// committed only after the backend succeeds.
func (s *ChatSession) QueryTurns(content string) []Turn {
	now := time.Now()
	turns := make([]Turn, 0, len(s.history)+2)
	if s.systemPrompt != "" && !s.hasSystemTurn() {
		turns = append(turns, Turn{Role: RoleSystem, Content: s.systemPrompt, Timestamp: now})
	}
	turns = append(turns, s.history...)
	turns = append(turns, Turn{Role: RoleUser, Content: content, Timestamp: now})
	return turns
}

// CommitExchange appends a completed question/answer pair to history,
// materializing the system turn first if the prompt is set and history has
// none. This is the single commit point for backend exchanges: a failed or
// cancelled exchange never reaches it, so history never holds partial state.
func (s *ChatSession) CommitExchange(question, answer string) {
	now := time.Now()
	if s.systemPrompt != "" && !s.hasSystemTurn() {
		s.history = append([]Turn{{Role: RoleSystem, Content: s.systemPrompt, Timestamp: now}}, s.history...)
	}
	s.history = append(s.history,
		Turn{Role: RoleUser, Content: question, Timestamp: now},
		Turn{Role: RoleAssistant, Content: answer, Timestamp: now},
	)
}

// Snapshot is the serializable form of a session. It round-trips exactly
// through the store.
type Snapshot struct {
	History      []Turn  `json:"history"`
	SystemPrompt *string `json:"system_prompt"`
	ActiveModel  string  `json:"active_model"`
	Title        *string `json:"title"`
}

// Snapshot captures the full session state.
func (s *ChatSession) Snapshot() Snapshot {
	snap := Snapshot{
		History:     slices.Clone(s.history),
		ActiveModel: s.activeModel,
	}
	if s.systemPrompt != "" {
		p := s.systemPrompt
		snap.SystemPrompt = &p
	}
	if s.title != "" {
		t := s.title
		snap.Title = &t
	}
	return snap
}

// Restore replaces the session's entire state with the snapshot.
func (s *ChatSession) Restore(snap Snapshot) {
	s.history = slices.Clone(snap.History)
	s.activeModel = snap.ActiveModel
	s.systemPrompt = ""
	if snap.SystemPrompt != nil {
		s.systemPrompt = *snap.SystemPrompt
	}
	s.title = ""
	if snap.Title != nil {
		s.title = *snap.Title
	}
}
