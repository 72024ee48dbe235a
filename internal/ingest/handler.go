// Package ingest accepts consultation audio over a websocket and feeds it
// into the session registry.
package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/consult-gateway/internal/audio"
	"github.com/lexiqai/consult-gateway/internal/clinical"
	"github.com/lexiqai/consult-gateway/internal/model"
	"github.com/lexiqai/consult-gateway/internal/observability"
)

var upgrader = websocket.Upgrader{
	// Media clients connect from the clinic app origin; auth sits in front of us
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  8192,
	WriteBufferSize: 1024,
}

const maxMessageSize = 1 << 20

// Message is one frame of the ingest protocol
type Message struct {
	Event            string                `json:"event"`
	SessionID        string                `json:"sessionId"`
	ConsultationType string                `json:"consultationType,omitempty"`
	Channel          string                `json:"channel,omitempty"`
	SampleRate       int                   `json:"sampleRate,omitempty"`
	Encoding         string                `json:"encoding,omitempty"`
	Payload          string                `json:"payload,omitempty"`   // base64 audio
	Timestamp        int64                 `json:"timestamp,omitempty"` // unix milliseconds
	Utterances       []model.TextUtterance `json:"utterances,omitempty"`
}

// Reply is sent back to the client for lifecycle events and errors
type Reply struct {
	Event     string `json:"event"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message,omitempty"`
	Accepted  int    `json:"accepted,omitempty"`
}

// Sessions is the part of the registry the ingest endpoint drives
type Sessions interface {
	StartSession(ctx context.Context, sessionID string, meta clinical.SessionMeta) error
	EndSession(sessionID string)
	PushFrame(sessionID string, channel model.Channel, samples []float32, sampleRate int, timestamp time.Time) bool
	FlushChannel(sessionID string, channel model.Channel) bool
	Replay(ctx context.Context, sessionID string, utts []model.TextUtterance) int
}

// Handler serves GET /ws/ingest.
//
// Protocol (JSON text frames):
//
//	{"event":"start","sessionId":"...","consultationType":"..."}
//	{"event":"media","sessionId":"...","channel":"patient","sampleRate":16000,"encoding":"pcm16","payload":"<base64>","timestamp":1700000000000}
//	{"event":"flush","sessionId":"...","channel":"clinician"}
//	{"event":"replay","sessionId":"...","utterances":[...]}
//	{"event":"stop","sessionId":"..."}
//
// Sessions outlive the connection so a client can reconnect and replay;
// they end on "stop".
type Handler struct {
	sessions Sessions
	logger   zerolog.Logger
}

// NewHandler creates the ingest endpoint
func NewHandler(sessions Sessions) *Handler {
	return &Handler{sessions: sessions, logger: observability.ComponentLogger("ingest")}
}

// ServeHTTP upgrades the connection and processes messages until it closes
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()

	logger := observability.WithCorrelationID("").With().Str("component", "ingest").Logger()
	logger.Info().Str("remote", r.RemoteAddr).Msg("Media connection established")

	conn.SetReadLimit(maxMessageSize)
	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket read error")
			}
			logger.Info().Msg("Media connection closed")
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn().Err(err).Msg("Failed to parse ingest message")
			h.reply(conn, Reply{Event: "error", Message: "malformed message"})
			continue
		}
		if reply, ok := h.handle(ctx, logger, msg); ok {
			h.reply(conn, reply)
		}
	}
}

// handle applies one message and returns the reply to send, if any
func (h *Handler) handle(ctx context.Context, logger zerolog.Logger, msg Message) (Reply, bool) {
	if msg.SessionID == "" {
		return Reply{Event: "error", Message: "sessionId is required"}, true
	}
	logger = logger.With().Str("session_id", msg.SessionID).Logger()

	switch msg.Event {
	case "start":
		meta := clinical.SessionMeta{ConsultationType: msg.ConsultationType, StartedAt: time.Now()}
		if err := h.sessions.StartSession(ctx, msg.SessionID, meta); err != nil {
			logger.Error().Err(err).Msg("Failed to start session")
			return Reply{Event: "error", SessionID: msg.SessionID, Message: err.Error()}, true
		}
		return Reply{Event: "started", SessionID: msg.SessionID}, true

	case "media":
		if err := h.media(msg); err != "" {
			logger.Debug().Str("reason", err).Msg("Media frame rejected")
			return Reply{Event: "error", SessionID: msg.SessionID, Message: err}, true
		}
		return Reply{}, false

	case "flush":
		ch, ok := model.ParseChannel(msg.Channel)
		if !ok {
			return Reply{Event: "error", SessionID: msg.SessionID, Message: "unknown channel"}, true
		}
		h.sessions.FlushChannel(msg.SessionID, ch)
		return Reply{}, false

	case "replay":
		n := h.sessions.Replay(ctx, msg.SessionID, msg.Utterances)
		logger.Info().Int("received", len(msg.Utterances)).Int("accepted", n).Msg("History replayed")
		return Reply{Event: "replayed", SessionID: msg.SessionID, Accepted: n}, true

	case "stop":
		h.sessions.EndSession(msg.SessionID)
		return Reply{Event: "stopped", SessionID: msg.SessionID}, true
	}

	logger.Warn().Str("event", msg.Event).Msg("Unknown ingest event")
	return Reply{Event: "error", SessionID: msg.SessionID, Message: "unknown event"}, true
}

// media decodes an audio frame and queues it. Frames dropped because the
// channel queue is full are not reported back; the ingestion path never waits.
func (h *Handler) media(msg Message) string {
	ch, ok := model.ParseChannel(msg.Channel)
	if !ok {
		return "unknown channel"
	}
	raw, err := base64.StdEncoding.DecodeString(msg.Payload)
	if err != nil {
		return "payload is not base64"
	}
	enc := audio.Encoding(msg.Encoding)
	samples, err := audio.DecodeSamples(raw, enc)
	if err != nil {
		return err.Error()
	}

	rate := msg.SampleRate
	if rate <= 0 {
		rate = defaultRate(enc)
	}
	ts := time.Now()
	if msg.Timestamp > 0 {
		ts = time.UnixMilli(msg.Timestamp)
	}
	h.sessions.PushFrame(msg.SessionID, ch, samples, rate, ts)
	return ""
}

// defaultRate is the conventional sample rate of an encoding
func defaultRate(enc audio.Encoding) int {
	if enc == audio.EncodingMulaw {
		return 8000
	}
	return 16000
}

func (h *Handler) reply(conn *websocket.Conn, r Reply) {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(r); err != nil {
		h.logger.Debug().Err(err).Msg("Failed to write reply")
	}
}
