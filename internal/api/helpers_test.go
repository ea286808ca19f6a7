package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dreamtree-labs/lsa-tutor/internal/classroom"
	"github.com/dreamtree-labs/lsa-tutor/internal/config"
	"github.com/dreamtree-labs/lsa-tutor/internal/domain"
	"github.com/dreamtree-labs/lsa-tutor/internal/identity"
	"github.com/dreamtree-labs/lsa-tutor/internal/lesson"
	"github.com/dreamtree-labs/lsa-tutor/internal/metrics"
	"github.com/dreamtree-labs/lsa-tutor/internal/speech"
	"github.com/go-chi/chi/v5"
)

type fakeModel struct {
	mu      sync.Mutex
	replies []string
	err     error
	sent    []domain.ChatMessage
}

func (f *fakeModel) Generate(_ context.Context, _ string, _ []domain.ChatMessage, next domain.ChatMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, next)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "ok", nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

func (f *fakeModel) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeSynth struct {
	err error
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) (*speech.Audio, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &speech.Audio{MIMEType: "audio/mp3", Data: []byte(text)}, nil
}

// fakeStore backs both the identity middleware and the handlers.
type fakeStore struct {
	mu      sync.Mutex
	users   map[string]*domain.User
	deleted []string
	pingErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[string]*domain.User)}
}

func (f *fakeStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[userID], nil
}

func (f *fakeStore) UpsertUser(_ context.Context, u *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.UserID] = u
	return nil
}

func (f *fakeStore) UpdateLastSeen(context.Context, string, time.Time) error { return nil }

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) DeleteClassSession(_ context.Context, userID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, userID+":"+sessionID)
	return nil
}

type testEnv struct {
	srv    *httptest.Server
	client *http.Client
	model  *fakeModel
	synth  *fakeSynth
	store  *fakeStore
	rooms  *classroom.Manager
	stats  *metrics.Metrics
}

func testConfig() *config.Config {
	return &config.Config{
		Tutor:  config.TutorConfig{Name: "Judy", Academy: "LSA English Academy"},
		Speech: config.SpeechConfig{Enabled: true, LanguageCode: "en-US"},
		Voice: config.VoiceInputConfig{
			Language:    "en",
			StartPrompt: "🎙️ Answer by voice",
			StopPrompt:  "⏹️ Done",
			JustOnce:    true,
		},
		RateLimit: config.RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Minute, MaxBodyBytes: 1 << 10},
	}
}

func newTestEnv(t *testing.T, content lesson.Content, limit int) *testEnv {
	t.Helper()

	cfg := testConfig()
	env := &testEnv{
		model: &fakeModel{},
		synth: &fakeSynth{},
		store: newFakeStore(),
	}
	env.rooms = classroom.NewManager(classroom.Config{
		Model:   env.model,
		Lesson:  content,
		Persona: lesson.Persona{Name: cfg.Tutor.Name, Academy: cfg.Tutor.Academy},
		Speaker: speech.NewSpeaker(env.synth),
	})
	limiter := NewRateLimiter(limit, time.Minute)
	t.Cleanup(limiter.Stop)

	env.stats = metrics.New("test", env.rooms.Len)
	h := NewHandler(cfg, env.store, env.rooms, limiter, nil, env.stats)
	r := chi.NewRouter()
	r.Use(identity.Middleware(env.store, true))
	h.RegisterHealth(r)
	h.RegisterRoutes(r)

	env.srv = httptest.NewServer(r)
	t.Cleanup(env.srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	env.client = &http.Client{Jar: jar, Timeout: 5 * time.Second}
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(identity.SessionHeaderName, "tab-1")
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

var errUpstream = errors.New("upstream unavailable")
