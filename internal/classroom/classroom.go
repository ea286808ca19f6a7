package classroom

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dreamtree-labs/lsa-tutor/internal/chat"
	"github.com/dreamtree-labs/lsa-tutor/internal/domain"
	"github.com/dreamtree-labs/lsa-tutor/internal/speech"
)

// SnapshotWriter persists committed class state.
type SnapshotWriter interface {
	UpsertClassSession(ctx context.Context, session *domain.ClassSession) error
}

// Outcome describes what one dispatched event did.
type Outcome struct {
	Applied  bool                `json:"applied"`
	Class    domain.ClassState   `json:"class_state"`
	Message  *domain.ChatMessage `json:"message,omitempty"`
	Reply    *domain.ChatMessage `json:"reply,omitempty"`
	Playback speech.Playback     `json:"-"`
}

// Rendered is a view plus the greeting audio produced while rendering it.
type Rendered struct {
	View     View
	Greeting speech.Playback
}

// Classroom runs the class for one learner tab. Events are processed one at a time.
type Classroom struct {
	userID    string
	sessionID string
	session   *chat.Session
	speaker   *speech.Speaker
	snapshots SnapshotWriter

	lastActive atomic.Int64

	mu        sync.Mutex
	state     State
	createdAt time.Time
	turns     int
	retired   bool
}

func newClassroom(userID, sessionID string, session *chat.Session, speaker *speech.Speaker, snapshots SnapshotWriter) *Classroom {
	c := &Classroom{
		userID:    userID,
		sessionID: sessionID,
		session:   session,
		speaker:   speaker,
		snapshots: snapshots,
		state:     NewState(session != nil),
		createdAt: time.Now(),
	}
	c.touch()
	return c
}

func (c *Classroom) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// Dispatch applies ev. Model and speech calls block while the classroom is locked.
// A failed model call returns the error and leaves the state untouched.
func (c *Classroom) Dispatch(ctx context.Context, ev Event) (Outcome, error) {
	c.touch()
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok, err := Plan(c.state, ev)
	if err != nil {
		return Outcome{Class: c.state.Class}, err
	}
	if !ok {
		return Outcome{Class: c.state.Class}, nil
	}

	reply, sendErr := c.session.Send(ctx, req.Kind, req.Text)
	result := Result{Reply: reply, Err: sendErr}
	if sendErr == nil {
		result.History = c.session.History()
	}
	c.state = Reduce(c.state, ev, result)
	if sendErr != nil {
		slog.Warn("Turn failed", "user_id", c.userID, "session_id", c.sessionID, "event", ev.Kind, "error", sendErr)
		return Outcome{Class: c.state.Class}, sendErr
	}
	c.turns++
	if !c.retired {
		c.persist(ctx)
	}

	out := Outcome{Applied: true, Class: c.state.Class, Reply: &reply}
	if req.Kind == domain.KindUser {
		sent := result.History[len(result.History)-2]
		out.Message = &sent
		out.Playback = c.speaker.Speak(ctx, reply.Text)
	}
	return out, nil
}

// View renders the current state. A pending greeting is spoken here, once, and then cleared.
func (c *Classroom) View(ctx context.Context) Rendered {
	c.touch()
	c.mu.Lock()
	defer c.mu.Unlock()

	v := Render(c.state)
	var pb speech.Playback
	if v.Greeting != "" {
		pb = c.speaker.Speak(ctx, v.Greeting)
		c.state = ConsumeGreeting(c.state)
	}
	return Rendered{View: v, Greeting: pb}
}

// retire waits for an in-flight turn and stops further snapshot writes.
func (c *Classroom) retire() {
	c.mu.Lock()
	c.retired = true
	c.mu.Unlock()
}

// State returns a copy of the current state.
func (c *Classroom) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.History = append([]domain.ChatMessage(nil), c.state.History...)
	return s
}

// Instruction returns the system instruction of the underlying session, or "" without one.
func (c *Classroom) Instruction() string {
	if c.session == nil {
		return ""
	}
	return c.session.Instruction()
}

// IdleSince reports the last time the learner interacted with the classroom.
func (c *Classroom) IdleSince() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

func (c *Classroom) persist(ctx context.Context) {
	if c.snapshots == nil {
		return
	}
	stored := make([]domain.StoredMessage, 0, len(c.state.History))
	for _, m := range c.state.History {
		stored = append(stored, domain.StoredMessage{Role: string(m.Role), Kind: string(m.Kind), Content: m.Text})
	}
	data, err := json.Marshal(stored)
	if err != nil {
		slog.Warn("Failed to encode class snapshot", "user_id", c.userID, "error", err)
		return
	}
	snap := &domain.ClassSession{
		UserID:       c.userID,
		SessionID:    c.sessionID,
		State:        c.state.Class,
		MessagesJSON: string(data),
		TurnCount:    c.turns,
		CreatedAt:    c.createdAt,
		UpdatedAt:    time.Now(),
	}
	if err := c.snapshots.UpsertClassSession(ctx, snap); err != nil {
		slog.Warn("Failed to persist class snapshot", "user_id", c.userID, "session_id", c.sessionID, "error", err)
	}
}
