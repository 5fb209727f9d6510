package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/mktcalc/internal/modules/optimization"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

const (
	wsWriteWait = 10 * time.Second
	wsReadLimit = maxBodyBytes
)

// HandleWebSocket handles GET /api/optimizer/ws. Each message is one Request:
// binary frames are msgpack, text frames are JSON. Replies use the encoding of
// the message they answer.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	conn.SetReadLimit(wsReadLimit)

	if h.metrics != nil {
		h.metrics.AddWSClients(1)
		defer h.metrics.AddWSClients(-1)
	}

	burst := int(h.wsRate)
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(h.wsRate), burst)

	ctx := r.Context()
	h.log.Debug().Str("remote", r.RemoteAddr).Msg("WebSocket client connected")

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				h.log.Debug().Msg("WebSocket client disconnected")
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			h.log.Warn().Err(err).Msg("WebSocket read failed")
			return
		}

		reply := h.wsReply(ctx, limiter, msgType, data)
		if err := h.wsWrite(ctx, conn, msgType, reply); err != nil {
			h.log.Warn().Err(err).Msg("WebSocket write failed")
			return
		}
	}
}

// wsReply runs one websocket message and returns the envelope to send back
func (h *Handler) wsReply(ctx context.Context, limiter *rate.Limiter, msgType websocket.MessageType, data []byte) interface{} {
	if !limiter.Allow() {
		return ErrorResponse{Error: APIError{
			Code:    CodeRateLimited,
			Message: "too many messages, slow down",
		}}
	}

	var req optimization.Request
	if err := unmarshalItem(msgType == websocket.MessageBinary, data, &req); err != nil {
		return ErrorResponse{Error: *h.apiError(badBody(err))}
	}

	params, result, warnings, err := h.service.RunRequest(ctx, req)
	if err != nil {
		return ErrorResponse{Error: *h.apiError(err)}
	}

	meta := newMetadata()
	meta.Context = &params.Context
	meta.Warnings = warnings
	return Response{Data: result, Metadata: meta}
}

func (h *Handler) wsWrite(ctx context.Context, conn *websocket.Conn, msgType websocket.MessageType, v interface{}) error {
	var (
		body []byte
		err  error
	)
	switch msgType {
	case websocket.MessageBinary:
		body, err = msgpack.Marshal(v)
	case websocket.MessageText:
		body, err = json.Marshal(v)
	default:
		err = errors.New("unsupported websocket message type")
	}
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, wsWriteWait)
	defer cancel()
	return conn.Write(writeCtx, msgType, body)
}
