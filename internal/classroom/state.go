// Package classroom holds the per-learner class state machine.
//
// Every interaction is an Event. Plan decides whether an event needs a model call,
// Reduce folds the outcome into the next State, and Render is a pure view of a State.
// Classroom runs that loop for one learner; Manager owns all classrooms.
package classroom

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dreamtree-labs/lsa-tutor/internal/domain"
)

// StartPrompt is sent on the learner's behalf when the class starts.
const StartPrompt = "Start the class. Greet the student with a first hello related to the topic."

var (
	// ErrLessonUnavailable is returned when the lesson failed to load and no session exists.
	ErrLessonUnavailable = errors.New("lesson unavailable")
	// ErrNotStarted is returned when a message is submitted before the class starts.
	ErrNotStarted = errors.New("class not started")
)

// EventKind identifies a learner action.
type EventKind string

const (
	EventStartClass  EventKind = "start_class"
	EventSubmitText  EventKind = "submit_text"
	EventSubmitVoice EventKind = "submit_voice"
)

// Event is one learner action.
type Event struct {
	Kind EventKind
	Text string
}

// StartClass is the "enter class" action.
func StartClass() Event {
	return Event{Kind: EventStartClass}
}

// Multiplex picks the single message for one input cycle from the typed field and the voice
// transcript. A non-blank transcript wins; ok is false when both are blank.
func Multiplex(typed, voice string) (text string, ok bool) {
	if v := strings.TrimSpace(voice); v != "" {
		return v, true
	}
	if t := strings.TrimSpace(typed); t != "" {
		return t, true
	}
	return "", false
}

// Submit builds the event for one input cycle, or ok=false when there is nothing to send.
func Submit(typed, voice string) (Event, bool) {
	text, ok := Multiplex(typed, voice)
	if !ok {
		return Event{}, false
	}
	if strings.TrimSpace(voice) != "" {
		return Event{Kind: EventSubmitVoice, Text: text}, true
	}
	return Event{Kind: EventSubmitText, Text: text}, true
}

// State is everything the view is derived from.
type State struct {
	Class       domain.ClassState
	LessonReady bool
	History     []domain.ChatMessage
	// Greeting holds the opening reply until one render has spoken it.
	Greeting string
}

// NewState returns the initial state.
func NewState(lessonReady bool) State {
	return State{Class: domain.ClassNotStarted, LessonReady: lessonReady}
}

// Request is the model call an event needs.
type Request struct {
	Kind domain.MessageKind
	Text string
}

// Plan decides what ev requires in s. ok is false when the event is a no-op.
func Plan(s State, ev Event) (req Request, ok bool, err error) {
	if !s.LessonReady {
		return Request{}, false, ErrLessonUnavailable
	}
	switch ev.Kind {
	case EventStartClass:
		if s.Class == domain.ClassStarted {
			return Request{}, false, nil
		}
		return Request{Kind: domain.KindTrigger, Text: StartPrompt}, true, nil
	case EventSubmitText, EventSubmitVoice:
		if s.Class != domain.ClassStarted {
			return Request{}, false, ErrNotStarted
		}
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return Request{}, false, nil
		}
		return Request{Kind: domain.KindUser, Text: text}, true, nil
	default:
		return Request{}, false, fmt.Errorf("unknown event %q", ev.Kind)
	}
}

// Result is the outcome of the model call made for an event.
type Result struct {
	Reply   domain.ChatMessage
	History []domain.ChatMessage
	Err     error
}

// Reduce returns the state after ev completed with r. A failed call changes nothing.
func Reduce(s State, ev Event, r Result) State {
	if r.Err != nil {
		return s
	}
	next := s
	next.History = r.History
	if ev.Kind == EventStartClass && s.Class == domain.ClassNotStarted {
		next.Class = domain.ClassStarted
		next.Greeting = r.Reply.Text
	}
	return next
}

// ConsumeGreeting clears the pending greeting once it has been rendered.
func ConsumeGreeting(s State) State {
	s.Greeting = ""
	return s
}

// View is what the learner sees for a State.
type View struct {
	Class       domain.ClassState    `json:"class_state"`
	LessonReady bool                 `json:"lesson_ready"`
	LessonError string               `json:"lesson_error,omitempty"`
	Messages    []domain.ChatMessage `json:"messages"`
	Greeting    string               `json:"greeting,omitempty"`
}

// Render derives the view of s. Trigger messages are never shown.
func Render(s State) View {
	v := View{
		Class:       s.Class,
		LessonReady: s.LessonReady,
		Messages:    make([]domain.ChatMessage, 0, len(s.History)),
		Greeting:    s.Greeting,
	}
	if !s.LessonReady {
		v.LessonError = "The lesson could not be loaded. Please tell your teacher."
	}
	for _, m := range s.History {
		if m.Visible() {
			v.Messages = append(v.Messages, m)
		}
	}
	return v
}
