// Package convlog writes classroom conversations as NDJSON, one file per learner tab.
package convlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Channels and event types recorded by the API layer.
const (
	ChannelHTTP = "class_http"
	ChannelWS   = "class_ws"

	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"

	EventClassStarted = "class_started"
	EventGreeting     = "class_greeting"
	EventUserMessage  = "class_user_message"
	EventTutorMessage = "class_tutor_message"
	EventTurnFailed   = "class_turn_failed"
	EventAudioFailed  = "class_audio_failed"
	EventSessionReset = "class_session_reset"
)

// Config controls where conversation logs go.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
	// MaxOpenFiles caps the per-session handles kept open. The least recently written is closed first.
	MaxOpenFiles int
}

// DefaultMaxOpenFiles is used when Config.MaxOpenFiles is not positive.
const DefaultMaxOpenFiles = 64

// Event is one NDJSON line.
type Event struct {
	Timestamp  string         `json:"ts"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Logger records conversation events without blocking the caller.
type Logger interface {
	Log(Event)
	Close() error
}

type noopLogger struct{}

func (noopLogger) Log(Event)    {}
func (noopLogger) Close() error { return nil }

// Noop returns a Logger that discards everything.
func Noop() Logger { return noopLogger{} }

type fileLogger struct {
	cfg    Config
	log    *slog.Logger
	events chan Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	files  map[string]*sessionLog
	global *os.File
}

type sessionLog struct {
	f         *os.File
	lastWrite time.Time
}

// New returns a Logger for cfg. A disabled config yields Noop.
func New(cfg Config, log *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.MaxOpenFiles <= 0 {
		cfg.MaxOpenFiles = DefaultMaxOpenFiles
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}

	l := &fileLogger{
		cfg:    cfg,
		log:    log,
		events: make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
		files:  make(map[string]*sessionLog),
	}
	if cfg.GlobalEnabled {
		f, err := openAppend(cfg.GlobalPath)
		if err != nil {
			return nil, fmt.Errorf("open global conversation log: %w", err)
		}
		l.global = f
	}

	go l.run()
	return l, nil
}

// Log enqueues ev. Events are dropped when the queue is full or the logger is closed.
func (l *fileLogger) Log(ev Event) {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if ev.Content == "" && ev.ContentRaw != "" {
		ev.Content = cleanForReadability(ev.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.events <- ev:
	default:
		l.log.Warn("Conversation log queue full, dropping event", "user_id", ev.UserID, "event_type", ev.EventType)
	}
}

// Close drains pending events and closes all files.
func (l *fileLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.events)
	l.mu.Unlock()

	<-l.done

	var firstErr error
	for path, sl := range l.files {
		if err := sl.f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", path, err)
		}
	}
	if l.global != nil {
		if err := l.global.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close global log: %w", err)
		}
	}
	return firstErr
}

func (l *fileLogger) run() {
	defer close(l.done)
	for ev := range l.events {
		line, err := json.Marshal(ev)
		if err != nil {
			l.log.Warn("Failed to encode conversation event", "error", err)
			continue
		}
		line = append(line, '\n')

		f, err := l.sessionFile(ev.UserID, ev.SessionID)
		if err != nil {
			l.log.Warn("Failed to open conversation log", "user_id", ev.UserID, "error", err)
		} else if _, err := f.Write(line); err != nil {
			l.log.Warn("Failed to write conversation log", "user_id", ev.UserID, "error", err)
		}

		if l.global != nil {
			if _, err := l.global.Write(line); err != nil {
				l.log.Warn("Failed to write global conversation log", "error", err)
			}
		}
	}
}

func (l *fileLogger) sessionFile(userID, sessionID string) (*os.File, error) {
	path := filepath.Join(l.cfg.Dir, safeName(userID, "unknown"), safeName(sessionID, "default")+".ndjson")
	if sl, ok := l.files[path]; ok {
		sl.lastWrite = time.Now()
		return sl.f, nil
	}
	for len(l.files) >= l.cfg.MaxOpenFiles {
		l.closeOldest()
	}
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	l.files[path] = &sessionLog{f: f, lastWrite: time.Now()}
	return f, nil
}

// closeOldest releases the least recently written session file. A later event reopens it in append mode.
func (l *fileLogger) closeOldest() {
	var oldest string
	var oldestAt time.Time
	for path, sl := range l.files {
		if oldest == "" || sl.lastWrite.Before(oldestAt) {
			oldest, oldestAt = path, sl.lastWrite
		}
	}
	if err := l.files[oldest].f.Close(); err != nil {
		l.log.Warn("Failed to close conversation log", "path", oldest, "error", err)
	}
	delete(l.files, oldest)
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

var (
	unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._:-]`)
	controlChars    = regexp.MustCompile(`[\x00-\x08\x0b-\x1f\x7f]`)
	spaceRuns       = regexp.MustCompile(`[ \t]+`)
)

func safeName(s, fallback string) string {
	s = unsafeNameChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, ".")
	if s == "" {
		return fallback
	}
	return s
}

// cleanForReadability drops control characters from chat text and collapses runs of spaces.
func cleanForReadability(raw string) string {
	s := controlChars.ReplaceAllString(raw, "")
	s = spaceRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
