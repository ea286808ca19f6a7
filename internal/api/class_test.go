package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/dreamtree-labs/lsa-tutor/internal/domain"
	"github.com/dreamtree-labs/lsa-tutor/internal/lesson"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGetConfig(t *testing.T) {
	env := newTestEnv(t, lesson.Content("Topic: Colors"), 100)

	resp := env.do(t, http.MethodGet, "/api/config", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	got := decode[ConfigResponse](t, resp)
	if got.TutorName != "Judy" || !got.LessonReady {
		t.Fatalf("unexpected config %+v", got)
	}
	if !strings.HasPrefix(got.Username, "learner") {
		t.Fatalf("expected a derived username, got %q", got.Username)
	}
	if got.Voice.Language != "en" || !got.Voice.JustOnce || got.Voice.StopPrompt != "⏹️ Done" {
		t.Fatalf("unexpected voice config %+v", got.Voice)
	}
}

func TestClassFlow(t *testing.T) {
	env := newTestEnv(t, lesson.Content("Topic: Colors"), 100)
	env.model.replies = []string{"Hello! Today we learn colors 🌈", "Red is a warm color ❤️"}

	view := decode[ClassResponse](t, env.do(t, http.MethodGet, "/api/class", nil))
	if view.View.Class != domain.ClassNotStarted || view.Greeting != nil {
		t.Fatalf("expected fresh classroom, got %+v", view)
	}

	start := env.do(t, http.MethodPost, "/api/class/start", nil)
	if start.StatusCode != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", start.StatusCode)
	}
	turn := decode[TurnResponse](t, start)
	if !turn.Applied || turn.Class != domain.ClassStarted {
		t.Fatalf("unexpected start outcome %+v", turn)
	}

	first := decode[ClassResponse](t, env.do(t, http.MethodGet, "/api/class", nil))
	if first.View.Greeting != "Hello! Today we learn colors 🌈" {
		t.Fatalf("expected greeting on first render, got %q", first.View.Greeting)
	}
	if first.Greeting == nil || first.Greeting.Audio == "" {
		t.Fatal("expected greeting audio on first render")
	}
	spoken, err := base64.StdEncoding.DecodeString(first.Greeting.Audio)
	if err != nil || string(spoken) != "Hello! Today we learn colors" {
		t.Fatalf("expected cleaned greeting audio, got %q (%v)", spoken, err)
	}
	for _, m := range first.View.Messages {
		if m.Kind == domain.KindTrigger {
			t.Fatal("trigger message must not be rendered")
		}
	}

	second := decode[ClassResponse](t, env.do(t, http.MethodGet, "/api/class", nil))
	if second.View.Greeting != "" || second.Greeting != nil {
		t.Fatal("greeting must be consumed by the first render")
	}

	resp := env.do(t, http.MethodPost, "/api/class/messages", submitRequest{Text: "goodbye", Voice: "hello"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit: expected 200, got %d", resp.StatusCode)
	}
	reply := decode[TurnResponse](t, resp)
	if reply.Message == nil || reply.Message.Text != "hello" {
		t.Fatalf("voice transcript must win, got %+v", reply.Message)
	}
	if reply.Reply == nil || reply.Reply.Text != "Red is a warm color ❤️" {
		t.Fatalf("unexpected reply %+v", reply.Reply)
	}
	if reply.Audio == nil || reply.Audio.MIMEType != "audio/mp3" {
		t.Fatalf("expected reply audio, got %+v", reply.Audio)
	}
	if !strings.HasPrefix(reply.Audio.Src, "data:audio/mp3;base64,") {
		t.Fatalf("expected playable data URI, got %q", reply.Audio.Src)
	}
	if env.model.calls() != 2 {
		t.Fatalf("expected 2 model calls, got %d", env.model.calls())
	}
}

func TestStartIsIdempotent(t *testing.T) {
	env := newTestEnv(t, lesson.Content("Topic: Colors"), 100)

	env.do(t, http.MethodPost, "/api/class/start", nil)
	resp := env.do(t, http.MethodPost, "/api/class/start", nil)
	turn := decode[TurnResponse](t, resp)
	if turn.Applied {
		t.Fatal("second start must be a no-op")
	}
	if env.model.calls() != 1 {
		t.Fatalf("expected a single model call, got %d", env.model.calls())
	}
}

func TestSubmitNothingIsNoContent(t *testing.T) {
	env := newTestEnv(t, lesson.Content("Topic: Colors"), 100)
	env.do(t, http.MethodPost, "/api/class/start", nil)

	resp := env.do(t, http.MethodPost, "/api/class/messages", submitRequest{Text: "  ", Voice: ""})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if env.model.calls() != 1 {
		t.Fatalf("blank input must not call the model, got %d calls", env.model.calls())
	}
}

func TestSubmitBeforeStart(t *testing.T) {
	env := newTestEnv(t, lesson.Content("Topic: Colors"), 100)

	resp := env.do(t, http.MethodPost, "/api/class/messages", submitRequest{Text: "hi"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if got := decode[map[string]string](t, resp); got["error"] != "class_not_started" {
		t.Fatalf("unexpected error %v", got)
	}
}

func TestSubmitRejectsOversizedBody(t *testing.T) {
	env := newTestEnv(t, lesson.Content("Topic: Colors"), 100)

	resp := env.do(t, http.MethodPost, "/api/class/messages", submitRequest{Text: strings.Repeat("a", 4<<10)})
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
}

func TestMissingLesson(t *testing.T) {
	env := newTestEnv(t, lesson.Missing, 100)

	resp := env.do(t, http.MethodPost, "/api/class/start", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if got := decode[map[string]string](t, resp); got["error"] != "lesson_unavailable" {
		t.Fatalf("unexpected error %v", got)
	}

	view := decode[ClassResponse](t, env.do(t, http.MethodGet, "/api/class", nil))
	if view.View.LessonError == "" || view.View.Class != domain.ClassNotStarted {
		t.Fatalf("expected persistent lesson error, got %+v", view.View)
	}
	if env.model.calls() != 0 {
		t.Fatal("model must never be called without a lesson")
	}
}

func TestModelFailureKeepsClassRetryable(t *testing.T) {
	env := newTestEnv(t, lesson.Content("Topic: Colors"), 100)
	env.model.setErr(errUpstream)

	resp := env.do(t, http.MethodPost, "/api/class/start", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}

	view := decode[ClassResponse](t, env.do(t, http.MethodGet, "/api/class", nil))
	if view.View.Class != domain.ClassNotStarted || len(view.View.Messages) != 0 {
		t.Fatalf("failed start must leave the class untouched, got %+v", view.View)
	}

	env.model.setErr(nil)
	resp = env.do(t, http.MethodPost, "/api/class/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retry: expected 200, got %d", resp.StatusCode)
	}
}

func TestAudioFailureIsInline(t *testing.T) {
	env := newTestEnv(t, lesson.Content("Topic: Colors"), 100)
	env.synth.err = errors.New("quota")
	env.do(t, http.MethodPost, "/api/class/start", nil)
	env.do(t, http.MethodGet, "/api/class", nil)

	resp := env.do(t, http.MethodPost, "/api/class/messages", submitRequest{Text: "blue"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audio failure must not fail the turn, got %d", resp.StatusCode)
	}
	turn := decode[TurnResponse](t, resp)
	if turn.Reply == nil || turn.Audio == nil || !strings.HasPrefix(turn.Audio.AudioError, "audio error:") {
		t.Fatalf("expected inline audio error, got %+v", turn)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, lesson.Content("Topic: Colors"), 1)

	if resp := env.do(t, http.MethodPost, "/api/class/start", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp := env.do(t, http.MethodPost, "/api/class/messages", submitRequest{Text: "hi"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if got := testutil.ToFloat64(env.stats.RateLimitHits.WithLabelValues("class_http")); got != 1 {
		t.Fatalf("expected one recorded rate limit hit, got %v", got)
	}
	if got := testutil.ToFloat64(env.stats.TurnsTotal.WithLabelValues("start_class", "ok")); got != 1 {
		t.Fatalf("expected one recorded start, got %v", got)
	}
}

func TestResetClass(t *testing.T) {
	env := newTestEnv(t, lesson.Content("Topic: Colors"), 100)
	env.do(t, http.MethodPost, "/api/class/start", nil)

	if resp := env.do(t, http.MethodPost, "/api/class/reset", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(env.store.deleted) != 1 || !strings.HasSuffix(env.store.deleted[0], ":tab-1") {
		t.Fatalf("expected snapshot delete for tab-1, got %v", env.store.deleted)
	}

	view := decode[ClassResponse](t, env.do(t, http.MethodGet, "/api/class", nil))
	if view.View.Class != domain.ClassNotStarted {
		t.Fatalf("expected a fresh classroom after reset, got %s", view.View.Class)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, lesson.Content("Topic: Colors"), 100)

	if resp := env.do(t, http.MethodGet, "/health", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	env.store.pingErr = errors.New("closed")
	if resp := env.do(t, http.MethodGet, "/health", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}
