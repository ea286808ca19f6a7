// Package chat wraps a remote conversational model with an ordered, append-only history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dreamtree-labs/lsa-tutor/internal/domain"
)

// ErrEmptyReply is returned when the model answers with no text.
var ErrEmptyReply = errors.New("model returned an empty reply")

// Model generates the next reply given the fixed instruction, prior turns, and the new message.
type Model interface {
	Generate(ctx context.Context, instruction string, history []domain.ChatMessage, next domain.ChatMessage) (string, error)
}

// Session is one learner's conversation. The instruction is fixed at creation.
type Session struct {
	model       Model
	instruction string

	mu      sync.Mutex
	history []domain.ChatMessage
}

// NewSession creates an empty conversation seeded with instruction.
func NewSession(model Model, instruction string) *Session {
	return &Session{model: model, instruction: instruction}
}

// Instruction returns the system instruction the session was created with.
func (s *Session) Instruction() string {
	return s.instruction
}

// Send delivers text as a message of the given kind and blocks until the model replies.
// On success both the message and the reply are appended; on failure history is unchanged.
func (s *Session) Send(ctx context.Context, kind domain.MessageKind, text string) (domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := domain.NewMessage(kind, text)
	prior := make([]domain.ChatMessage, len(s.history))
	copy(prior, s.history)

	reply, err := s.model.Generate(ctx, s.instruction, prior, msg)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("chat: send: %w", err)
	}
	if strings.TrimSpace(reply) == "" {
		return domain.ChatMessage{}, fmt.Errorf("chat: send: %w", ErrEmptyReply)
	}

	answer := domain.NewMessage(domain.KindModel, reply)
	s.history = append(s.history, msg, answer)
	return answer, nil
}

// History returns the ordered conversation so far.
func (s *Session) History() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, len(s.history))
	copy(out, s.history)
	return out
}
