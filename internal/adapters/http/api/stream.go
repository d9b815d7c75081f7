package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"github.com/okian/soccer-tracker/internal/domain/model"
	"github.com/okian/soccer-tracker/pkg/logger"
)

// Stream message types.
const (
	MessageSelect = "select"
	MessageView   = "view"
	MessageError  = "error"
)

// StreamMessage is the websocket frame exchanged in both directions.
type StreamMessage struct {
	Type     string         `json:"type"`
	PlayerID string         `json:"player_id,omitempty"`
	View     *model.View    `json:"view,omitempty"`
	Error    *ErrorResponse `json:"error,omitempty"`
}

// StreamHandler pushes analytics views over a websocket. Each connection owns
// a private session; the client switches players by sending select frames.
type StreamHandler struct {
	open    StreamOpener
	origins []string
	logger  logger.Logger
}

// NewStreamHandler creates a stream handler. origins are the allowed browser
// origins as full URLs.
func NewStreamHandler(open StreamOpener, origins []string, l logger.Logger) *StreamHandler {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return &StreamHandler{open: open, origins: patterns, logger: l}
}

// HandleStream handles GET /players/{playerID}/analytics/stream.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	sess, err := h.open()
	if err != nil {
		writeFailure(w, err)
		return
	}
	defer sess.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn(r.Context(), "websocket accept failed", logger.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	views, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	failures := make(chan error, 1)
	report := func(err error) {
		select {
		case failures <- err:
		case <-ctx.Done():
		}
	}
	if err := sess.Select(ctx, chi.URLParam(r, "playerID")); err != nil {
		report(err)
	}
	go h.readLoop(ctx, cancel, conn, sess, report)

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case v, ok := <-views:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "session closed")
				return
			}
			if v.PlayerID == "" {
				continue
			}
			if err := h.write(ctx, conn, StreamMessage{Type: MessageView, PlayerID: v.PlayerID, View: &v}); err != nil {
				return
			}
		case err := <-failures:
			_, code := statusFor(err)
			msg := StreamMessage{Type: MessageError, Error: &ErrorResponse{Code: code, Message: err.Error()}}
			if werr := h.write(ctx, conn, msg); werr != nil {
				return
			}
		}
	}
}

// readLoop applies client frames until the connection ends.
func (h *StreamHandler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sess StreamSession, report func(error)) {
	defer cancel()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				h.logger.Debug(ctx, "websocket read ended", logger.Error(err))
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var msg StreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			report(WrapKind("stream: decode frame", ErrBadRequest, err))
			continue
		}
		switch msg.Type {
		case MessageSelect:
			if err := sess.Select(ctx, msg.PlayerID); err != nil {
				report(err)
			}
		default:
			report(NewKind("stream: unknown frame type "+msg.Type, ErrBadRequest))
		}
	}
}

func (h *StreamHandler) write(ctx context.Context, conn *websocket.Conn, msg StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Debug(ctx, "websocket write failed", logger.Error(err))
		return err
	}
	return nil
}
