package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/twilio/twilio-go/client/jwt"
	"github.com/twilio/twilio-go/twiml"

	"github.com/dublintech/callbridge/internal/callserver/app"
	"github.com/dublintech/callbridge/internal/callserver/domain"
)

// TwilioConfig carries the provider credentials. Any field may be empty;
// the operations that need a missing value fail individually.
type TwilioConfig struct {
	AccountSid   string
	APIKeySid    string
	APIKeySecret string
	TwimlAppSid  string
	HoldMusicURL string
}

// apologyTwiML is the fallback voice document returned when even TwiML
// rendering fails. The provider must always get a well-formed response.
const apologyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response><Say>Sorry, an error occurred. Please try again later.</Say></Response>`

// TestCallRequest is the harness payload for synthesizing an inbound call.
type TestCallRequest struct {
	FromNumber string `json:"fromNumber" validate:"required"`
}

type TwilioHandler struct {
	hub      app.Publisher
	cfg      TwilioConfig
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

func NewTwilioHandler(hub app.Publisher, cfg TwilioConfig, logger *slog.Logger) *TwilioHandler {
	return &TwilioHandler{
		hub:      hub,
		cfg:      cfg,
		logger:   logger.With("component", "twilio_handler"),
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// VoiceWebhook handles POST /voice/webhook: normalizes the provider's
// call-notification form into a CallArrivalEvent, publishes it, and answers
// with a hold-message voice document. The provider always gets HTTP 200 with
// valid TwiML, even when publishing or rendering fails internally.
func (h *TwilioHandler) VoiceWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		h.logger.ErrorContext(ctx, "Failed to parse voice webhook form", "error", err)
		writeTwiML(w, apologyTwiML)
		return
	}

	from := r.PostFormValue("From")
	callSid := r.PostFormValue("CallSid")
	h.logger.InfoContext(ctx, "Received incoming call webhook",
		"from", from,
		"call_sid", callSid,
		"call_status", r.PostFormValue("CallStatus"),
		"direction", r.PostFormValue("Direction"))

	doc, err := h.handleVoiceWebhook(from, callSid)
	if err != nil {
		h.logger.ErrorContext(ctx, "Error processing incoming call", "call_sid", callSid, "error", err)
		writeTwiML(w, apologyTwiML)
		return
	}
	writeTwiML(w, doc)
}

// handleVoiceWebhook publishes the event and renders the hold document.
// A panicking publisher is absorbed here so the webhook response stays valid.
func (h *TwilioHandler) handleVoiceWebhook(from, callSid string) (doc string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("publishing call event: %v", rec)
		}
	}()

	h.hub.Publish(domain.CallArrivalEvent{
		FromNumber:   from,
		CallSid:      callSid,
		TimestampUTC: h.now(),
	})

	verbs := []twiml.Element{
		twiml.VoiceSay{
			Message:  "Please hold while we connect you to an operator.",
			Language: "en-IE",
		},
	}
	if h.cfg.HoldMusicURL != "" {
		verbs = append(verbs, twiml.VoicePlay{Url: h.cfg.HoldMusicURL})
	}
	return twiml.Voice(verbs)
}

// TestIncomingCall handles POST /test/incoming-call: synthesizes a call
// event with a fresh test- call sid and publishes it.
func (h *TwilioHandler) TestIncomingCall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TestCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "Malformed test call payload", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.logger.WarnContext(ctx, "Invalid test call payload", "error", err)
		http.Error(w, "fromNumber is a required field", http.StatusBadRequest)
		return
	}

	ev := domain.CallArrivalEvent{
		FromNumber:   req.FromNumber,
		CallSid:      "test-" + uuid.NewString(),
		TimestampUTC: h.now(),
	}
	h.logger.InfoContext(ctx, "Test incoming call", "from", ev.FromNumber, "call_sid", ev.CallSid)

	if err := h.publishSafe(ev); err != nil {
		h.logger.ErrorContext(ctx, "Error sending test call", "error", err)
		http.Error(w, "Error sending test call", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Test call sent"})
}

func (h *TwilioHandler) publishSafe(ev domain.CallArrivalEvent) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("publishing call event: %v", rec)
		}
	}()
	h.hub.Publish(ev)
	return nil
}

// Token handles GET /api/twilio/token?identity=: issues a voice-grant access
// token for the softphone device. Missing identity is a client error; missing
// provider credentials surface as a 500 on this operation only.
func (h *TwilioHandler) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity := r.URL.Query().Get("identity")
	if identity == "" {
		http.Error(w, "Identity is a required parameter", http.StatusBadRequest)
		return
	}

	token, err := h.issueToken(identity)
	if err != nil {
		h.logger.ErrorContext(ctx, "Error creating access token", "identity", identity, "error", err)
		http.Error(w, "Error creating token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(token))
}

func (h *TwilioHandler) issueToken(identity string) (string, error) {
	if h.cfg.AccountSid == "" || h.cfg.APIKeySid == "" || h.cfg.APIKeySecret == "" {
		return "", errors.New("twilio credentials are not configured")
	}

	accessToken := jwt.CreateAccessToken(jwt.AccessTokenParams{
		AccountSid:    h.cfg.AccountSid,
		SigningKeySid: h.cfg.APIKeySid,
		Secret:        h.cfg.APIKeySecret,
		Identity:      identity,
	})
	accessToken.AddGrant(&jwt.VoiceGrant{
		Incoming: jwt.Incoming{Allow: true},
		Outgoing: jwt.Outgoing{ApplicationSid: h.cfg.TwimlAppSid},
	})

	token, err := accessToken.ToJwt()
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return token, nil
}

func writeTwiML(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
