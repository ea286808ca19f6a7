package classroom

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dreamtree-labs/lsa-tutor/internal/chat"
	"github.com/dreamtree-labs/lsa-tutor/internal/lesson"
	"github.com/dreamtree-labs/lsa-tutor/internal/speech"
)

// Config wires a Manager.
type Config struct {
	Model     chat.Model
	Lesson    lesson.Content
	Persona   lesson.Persona
	Speaker   *speech.Speaker
	Snapshots SnapshotWriter
}

// Manager owns one Classroom per learner tab. Classrooms never share state.
type Manager struct {
	cfg         Config
	instruction string

	mu    sync.RWMutex
	rooms map[string]*Classroom
}

// NewManager creates a manager. The system instruction is built once from the lesson;
// with a missing lesson classrooms are created without a conversation session.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		cfg:   cfg,
		rooms: make(map[string]*Classroom),
	}
	if cfg.Lesson.Ready() {
		m.instruction = lesson.Instruction(cfg.Persona, cfg.Lesson)
	}
	return m
}

func roomKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// LessonReady reports whether the lesson loaded.
func (m *Manager) LessonReady() bool {
	return m.cfg.Lesson.Ready()
}

// Get returns the classroom for a learner tab, creating it on first use.
func (m *Manager) Get(userID, sessionID string) *Classroom {
	key := roomKey(userID, sessionID)

	m.mu.RLock()
	room, ok := m.rooms[key]
	m.mu.RUnlock()
	if ok {
		return room
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok := m.rooms[key]; ok {
		return room
	}

	var session *chat.Session
	if m.cfg.Lesson.Ready() {
		session = chat.NewSession(m.cfg.Model, m.instruction)
	}
	room = newClassroom(userID, sessionID, session, m.cfg.Speaker, m.cfg.Snapshots)
	m.rooms[key] = room
	slog.Info("Classroom created", "user_id", userID, "session_id", sessionID, "lesson_ready", session != nil)
	return room
}

// Reset drops a learner tab's classroom. It reports whether one existed.
// It returns once any turn in flight on that classroom has finished, and the dropped
// classroom writes no further snapshots, so a snapshot deleted afterwards stays deleted.
func (m *Manager) Reset(userID, sessionID string) bool {
	key := roomKey(userID, sessionID)
	m.mu.Lock()
	room, ok := m.rooms[key]
	if ok {
		delete(m.rooms, key)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	room.retire()
	slog.Info("Classroom reset", "user_id", userID, "session_id", sessionID)
	return true
}

// Evict removes classrooms idle since before cutoff and returns how many were removed.
func (m *Manager) Evict(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, room := range m.rooms {
		if room.IdleSince().Before(cutoff) {
			delete(m.rooms, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live classrooms.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}
