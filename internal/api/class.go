package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dreamtree-labs/lsa-tutor/internal/classroom"
	"github.com/dreamtree-labs/lsa-tutor/internal/config"
	"github.com/dreamtree-labs/lsa-tutor/internal/convlog"
	"github.com/dreamtree-labs/lsa-tutor/internal/identity"
	"github.com/dreamtree-labs/lsa-tutor/internal/speech"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Playback is the wire form of synthesized speech.
type Playback struct {
	MIMEType   string `json:"mime_type,omitempty"`
	Audio      string `json:"audio,omitempty"`
	Src        string `json:"src,omitempty"`
	AudioError string `json:"audio_error,omitempty"`
}

func toPlayback(pb speech.Playback) *Playback {
	switch {
	case pb.Audio != nil:
		return &Playback{MIMEType: pb.Audio.MIMEType, Audio: pb.Audio.Base64(), Src: pb.Audio.DataURI()}
	case pb.Error != "":
		return &Playback{AudioError: pb.Error}
	default:
		return nil
	}
}

// ClassResponse is a rendered view plus greeting audio, present on exactly one render.
type ClassResponse struct {
	View     classroom.View `json:"view"`
	Greeting *Playback      `json:"greeting_audio,omitempty"`
}

// TurnResponse is the result of one learner event.
type TurnResponse struct {
	classroom.Outcome
	Audio *Playback `json:"audio,omitempty"`
}

// ConfigResponse is what the page needs before the class starts.
type ConfigResponse struct {
	Username      string                  `json:"username"`
	TutorName     string                  `json:"tutor_name"`
	Academy       string                  `json:"academy"`
	LessonReady   bool                    `json:"lesson_ready"`
	SpeechEnabled bool                    `json:"speech_enabled"`
	Voice         config.VoiceInputConfig `json:"voice"`
}

type submitRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// RegisterRoutes registers classroom routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/class", h.ServeWS)
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Route("/class", func(r chi.Router) {
			r.Get("/", h.GetClass)
			r.Post("/start", h.StartClass)
			r.Post("/messages", h.SubmitMessage)
			r.Post("/reset", h.ResetClass)
		})
	})
}

// GetConfig returns the tutor persona and the browser transcription settings.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, ConfigResponse{
		Username:      identity.UsernameFromContext(r.Context()),
		TutorName:     h.cfg.Tutor.Name,
		Academy:       h.cfg.Tutor.Academy,
		LessonReady:   h.rooms.LessonReady(),
		SpeechEnabled: h.cfg.Speech.Enabled,
		Voice:         h.cfg.Voice,
	})
}

// GetClass renders the learner's classroom. A pending greeting is returned with its audio once.
func (h *Handler) GetClass(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.render(r.Context(), convlog.ChannelHTTP))
}

// StartClass enters the class. Repeated calls after the class started change nothing.
func (h *Handler) StartClass(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	out, err := h.dispatch(r.Context(), convlog.ChannelHTTP, classroom.StartClass())
	if err != nil {
		writeClassError(w, err)
		return
	}
	JSON(w, http.StatusOK, out)
}

// SubmitMessage sends one multiplexed input cycle. Nothing to send yields 204.
func (h *Handler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.RateLimit.MaxBodyBytes)
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ev, ok := classroom.Submit(req.Text, req.Voice)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !h.allow(w, r) {
		return
	}

	out, err := h.dispatch(r.Context(), convlog.ChannelHTTP, ev)
	if err != nil {
		writeClassError(w, err)
		return
	}
	JSON(w, http.StatusOK, out)
}

// ResetClass drops the learner tab's classroom so the next request starts fresh.
func (h *Handler) ResetClass(w http.ResponseWriter, r *http.Request) {
	h.reset(r.Context(), convlog.ChannelHTTP)
	JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) allow(w http.ResponseWriter, r *http.Request) bool {
	if !h.allowUser(r.Context(), convlog.ChannelHTTP) {
		Error(w, http.StatusTooManyRequests, "rate_limited")
		return false
	}
	return true
}

func (h *Handler) allowUser(ctx context.Context, channel string) bool {
	userID := identity.UserIDFromContext(ctx)
	if h.limiter == nil || h.limiter.Allow(userID) {
		return true
	}
	slog.Warn("Rate limit exceeded", "user_id", userID, "channel", channel)
	h.metrics.RecordRateLimit(channel)
	return false
}

func classError(err error) (int, string) {
	switch {
	case errors.Is(err, classroom.ErrLessonUnavailable):
		return http.StatusConflict, "lesson_unavailable"
	case errors.Is(err, classroom.ErrNotStarted):
		return http.StatusConflict, "class_not_started"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request_canceled"
	default:
		return http.StatusBadGateway, "model_error"
	}
}

func writeClassError(w http.ResponseWriter, err error) {
	status, code := classError(err)
	ErrorWithDetail(w, status, code, err.Error())
}

func (h *Handler) room(ctx context.Context) *classroom.Classroom {
	return h.rooms.Get(identity.UserIDFromContext(ctx), identity.SessionIDFromContext(ctx))
}

func (h *Handler) render(ctx context.Context, channel string) ClassResponse {
	rendered := h.room(ctx).View(ctx)
	if rendered.View.Greeting != "" {
		h.recordSpeech(rendered.Greeting)
		h.record(ctx, channel, convlog.DirectionInbound, convlog.EventGreeting, rendered.View.Greeting, nil)
		h.recordAudioError(ctx, channel, rendered.Greeting)
	}
	return ClassResponse{View: rendered.View, Greeting: toPlayback(rendered.Greeting)}
}

func (h *Handler) dispatch(ctx context.Context, channel string, ev classroom.Event) (TurnResponse, error) {
	userID := identity.UserIDFromContext(ctx)
	sessionID := identity.SessionIDFromContext(ctx)
	reqID := chiMiddleware.GetReqID(ctx)

	started := time.Now()
	out, err := h.room(ctx).Dispatch(ctx, ev)
	if err != nil {
		status, code := classError(err)
		h.metrics.RecordTurn(string(ev.Kind), code, time.Since(started))
		if status == http.StatusBadGateway {
			slog.Error("Class turn failed", "user_id", userID, "session_id", sessionID, "event", ev.Kind, "error", err)
		}
		h.record(ctx, channel, convlog.DirectionOutbound, convlog.EventTurnFailed, ev.Text, map[string]any{
			"event":      ev.Kind,
			"error":      code,
			"detail":     err.Error(),
			"request_id": reqID,
		})
		return TurnResponse{}, err
	}
	if !out.Applied {
		h.metrics.RecordTurn(string(ev.Kind), "noop", time.Since(started))
		return TurnResponse{Outcome: out}, nil
	}
	h.metrics.RecordTurn(string(ev.Kind), "ok", time.Since(started))

	if ev.Kind == classroom.EventStartClass {
		slog.Info("Class started", "user_id", userID, "session_id", sessionID)
		h.record(ctx, channel, convlog.DirectionOutbound, convlog.EventClassStarted, "", map[string]any{"request_id": reqID})
		return TurnResponse{Outcome: out}, nil
	}

	h.record(ctx, channel, convlog.DirectionOutbound, convlog.EventUserMessage, out.Message.Text, map[string]any{
		"input":      ev.Kind,
		"request_id": reqID,
	})
	h.record(ctx, channel, convlog.DirectionInbound, convlog.EventTutorMessage, out.Reply.Text, map[string]any{
		"has_audio":  out.Playback.Audio != nil,
		"request_id": reqID,
	})
	h.recordSpeech(out.Playback)
	h.recordAudioError(ctx, channel, out.Playback)
	return TurnResponse{Outcome: out, Audio: toPlayback(out.Playback)}, nil
}

func (h *Handler) reset(ctx context.Context, channel string) {
	userID := identity.UserIDFromContext(ctx)
	sessionID := identity.SessionIDFromContext(ctx)
	existed := h.rooms.Reset(userID, sessionID)
	if err := h.repo.DeleteClassSession(ctx, userID, sessionID); err != nil {
		slog.Warn("Failed to delete class snapshot", "user_id", userID, "session_id", sessionID, "error", err)
	}
	h.record(ctx, channel, convlog.DirectionOutbound, convlog.EventSessionReset, "", map[string]any{"existed": existed})
}

func (h *Handler) recordSpeech(pb speech.Playback) {
	switch {
	case pb.Audio != nil:
		h.metrics.RecordSpeech("ok")
	case pb.Error != "":
		h.metrics.RecordSpeech("error")
	default:
		h.metrics.RecordSpeech("skipped")
	}
}

func (h *Handler) recordAudioError(ctx context.Context, channel string, pb speech.Playback) {
	if pb.Error != "" {
		h.record(ctx, channel, convlog.DirectionInbound, convlog.EventAudioFailed, pb.Error, nil)
	}
}

func (h *Handler) record(ctx context.Context, channel, direction, eventType, content string, meta map[string]any) {
	h.log.Log(convlog.Event{
		UserID:     identity.UserIDFromContext(ctx),
		SessionID:  identity.SessionIDFromContext(ctx),
		Channel:    channel,
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       meta,
	})
}
