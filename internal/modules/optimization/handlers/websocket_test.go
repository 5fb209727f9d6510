package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aristath/mktcalc/internal/modules/optimization"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"nhooyr.io/websocket"
)

func dialTestServer(t *testing.T, handler *Handler) (*websocket.Conn, context.Context) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, "ws://"+strings.TrimPrefix(srv.URL, "http://"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	return conn, ctx
}

func TestHandleWebSocket_JSON(t *testing.T) {
	handler := setupTestHandler(nil)
	conn, ctx := dialTestServer(t, handler)

	body, err := json.Marshal(optimization.SampleRequest(28))
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, body))

	msgType, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, msgType)

	var resp resultResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, optimization.StatusOptimal, resp.Data.Status)
	assert.Equal(t, "OPPORTUNISTIC (BUYING THE DIP)", resp.Metadata.Context.RiskMode)
}

func TestHandleWebSocket_Msgpack(t *testing.T) {
	handler := setupTestHandler(nil)
	conn, ctx := dialTestServer(t, handler)

	body, err := msgpack.Marshal(optimization.SampleRequest(28))
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, body))

	msgType, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageBinary, msgType)

	var resp resultResponse
	require.NoError(t, msgpack.Unmarshal(data, &resp))
	assert.Equal(t, optimization.StatusOptimal, resp.Data.Status)
	assert.InDelta(t, 0.35, resp.Data.Weights()["Bank Stock"], 1e-6)
}

func TestHandleWebSocket_InputErrorKeepsConnection(t *testing.T) {
	handler := setupTestHandler(nil)
	conn, ctx := dialTestServer(t, handler)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"instruments": []}`)))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(data, &errResp))
	assert.Equal(t, optimization.CodeInvalidInput, errResp.Error.Code)

	body, err := json.Marshal(optimization.SampleRequest(12))
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, body))

	_, data, err = conn.Read(ctx)
	require.NoError(t, err)

	var resp resultResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, optimization.StatusOptimal, resp.Data.Status)
}

func TestHandleWebSocket_MissingMaxPE(t *testing.T) {
	handler := setupTestHandler(nil)
	conn, ctx := dialTestServer(t, handler)

	req := optimization.SampleRequest(28)
	req.Constraints.MaxPE = nil
	body, err := msgpack.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, body))

	msgType, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageBinary, msgType)

	var errResp ErrorResponse
	require.NoError(t, msgpack.Unmarshal(data, &errResp))
	assert.Equal(t, optimization.CodeMissingParameter, errResp.Error.Code)
	assert.Equal(t, optimization.KeyMaxPE, errResp.Error.Key)
}

func TestHandleWebSocket_RateLimited(t *testing.T) {
	handler := setupTestHandler(nil)
	handler.wsRate = 0.01
	conn, ctx := dialTestServer(t, handler)

	body, err := json.Marshal(optimization.SampleRequest(28))
	require.NoError(t, err)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, body))
	_, _, err = conn.Read(ctx)
	require.NoError(t, err)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, body))
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(data, &errResp))
	assert.Equal(t, CodeRateLimited, errResp.Error.Code)
}
