package wsconn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/OpenGlobes/Core-sub001/eventbus"
	"github.com/OpenGlobes/Core-sub001/gateway"
	"github.com/OpenGlobes/Core-sub001/interceptor"
	"github.com/OpenGlobes/Core-sub001/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*gateway.Gateway, *httptest.Server) {
	t.Helper()

	g := gateway.New(
		gateway.WithInstruments(gateway.NewStaticInstruments("20240105",
			&protocol.Instrument{ID: "rb2405", ExchangeID: "SHFE", Multiplier: 10, PriceTick: decimal.NewFromInt(1)},
		)),
		gateway.WithBusOptions(eventbus.WithIdleWait(time.Millisecond)),
		gateway.WithPipelineOptions(interceptor.WithIdleWait(time.Millisecond)),
	)
	require.NoError(t, g.Start())

	srv := NewServer(g, WithDepthLimit(5))
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		_ = g.Shutdown(context.Background())
		srv.Close()
		ts.Close()
	})
	return g, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) protocol.Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame protocol.Frame
	require.NoError(t, ws.ReadJSON(&frame))
	return frame
}

func sendRequest(t *testing.T, ws *websocket.Conn, req *protocol.Request) {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(protocol.Frame{
		Version: protocol.FrameVersion,
		Type:    protocol.FrameRequest,
		Payload: payload,
	}))
}

func TestServerWebsocketSession(t *testing.T) {
	_, ts := newTestServer(t)
	ws := dial(t, ts)

	frame := readFrame(t, ws)
	require.Equal(t, protocol.FrameStatus, frame.Type)
	assert.NotEmpty(t, frame.SessionID)

	var status map[string]string
	require.NoError(t, json.Unmarshal(frame.Payload, &status))
	assert.Equal(t, protocol.StatusConnected.String(), status["status"])

	sendRequest(t, ws, &protocol.Request{
		OrderID:      1,
		InstrumentID: "rb2405",
		Action:       protocol.ActionNew,
		Direction:    protocol.DirectionBuy,
		Offset:       protocol.OffsetOpen,
		Price:        decimal.NewFromInt(2690),
		Quantity:     5,
	})

	frame = readFrame(t, ws)
	require.Equal(t, protocol.FrameResponse, frame.Type)

	var resp protocol.Response
	require.NoError(t, json.Unmarshal(frame.Payload, &resp))
	assert.Equal(t, uint64(1), resp.OrderID)
	assert.Equal(t, protocol.OrderStatusAccepted, resp.Status)

	sendRequest(t, ws, &protocol.Request{OrderID: 9999, InstrumentID: "rb2405", Action: protocol.ActionDelete})

	frame = readFrame(t, ws)
	require.Equal(t, protocol.FrameResponse, frame.Type)
	require.NoError(t, json.Unmarshal(frame.Payload, &resp))
	assert.Equal(t, uint64(9999), resp.OrderID)
	assert.Equal(t, protocol.OrderStatusRejected, resp.Status)
	assert.Equal(t, protocol.StatusCodeOrderNotFound, resp.StatusCode)
}

func TestServerRejectsBadFrames(t *testing.T) {
	_, ts := newTestServer(t)
	ws := dial(t, ts)
	readFrame(t, ws) // connected

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	frame := readFrame(t, ws)
	require.Equal(t, protocol.FrameError, frame.Type)

	var payload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	assert.Contains(t, payload.Error, ErrBadFrame.Error())

	require.NoError(t, ws.WriteJSON(protocol.Frame{Version: protocol.FrameVersion, Type: protocol.FrameTrade, Payload: json.RawMessage(`{}`)}))
	frame = readFrame(t, ws)
	require.Equal(t, protocol.FrameError, frame.Type)
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	assert.Contains(t, payload.Error, ErrUnexpectedFrame.Error())
}

func TestServerHTTPEndpoints(t *testing.T) {
	g, ts := newTestServer(t)

	ws := dial(t, ts)
	readFrame(t, ws)
	sendRequest(t, ws, &protocol.Request{
		OrderID:      1,
		InstrumentID: "rb2405",
		Action:       protocol.ActionNew,
		Direction:    protocol.DirectionSell,
		Offset:       protocol.OffsetOpen,
		Price:        decimal.NewFromInt(2700),
		Quantity:     3,
	})
	readFrame(t, ws)

	assert.Eventually(t, func() bool {
		return len(g.Depth("rb2405", 1).Asks) == 1
	}, time.Second, 5*time.Millisecond)

	t.Run("depth", func(t *testing.T) {
		res, err := http.Get(ts.URL + "/depth/rb2405?limit=3")
		require.NoError(t, err)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)

		var depth struct {
			Asks []struct {
				Price    string `json:"price"`
				Quantity int64  `json:"quantity"`
			} `json:"asks"`
		}
		require.NoError(t, json.NewDecoder(res.Body).Decode(&depth))
		require.Len(t, depth.Asks, 1)
		assert.Equal(t, "2700", depth.Asks[0].Price)
		assert.Equal(t, int64(3), depth.Asks[0].Quantity)
	})

	t.Run("depth bad limit", func(t *testing.T) {
		res, err := http.Get(ts.URL + "/depth/rb2405?limit=abc")
		require.NoError(t, err)
		defer res.Body.Close()
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})

	t.Run("healthz", func(t *testing.T) {
		res, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		defer res.Body.Close()
		assert.Equal(t, http.StatusOK, res.StatusCode)
	})

	t.Run("metrics", func(t *testing.T) {
		res, err := http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer res.Body.Close()
		assert.Equal(t, http.StatusOK, res.StatusCode)
	})
}

func TestServerRejectsUnknownEnums(t *testing.T) {
	_, ts := newTestServer(t)
	ws := dial(t, ts)
	readFrame(t, ws) // connected

	send := func(payload string) protocol.Response {
		t.Helper()
		require.NoError(t, ws.WriteJSON(protocol.Frame{
			Version: protocol.FrameVersion,
			Type:    protocol.FrameRequest,
			Payload: json.RawMessage(payload),
		}))

		frame := readFrame(t, ws)
		require.Equal(t, protocol.FrameResponse, frame.Type, string(frame.Payload))

		var resp protocol.Response
		require.NoError(t, json.Unmarshal(frame.Payload, &resp))
		return resp
	}

	resp := send(`{"order_id":5,"instrument_id":"rb2405","action":"new","direction":"sideways","offset":"open","price":"2690","quantity":1}`)
	assert.Equal(t, uint64(5), resp.OrderID)
	assert.Equal(t, protocol.OrderStatusRejected, resp.Status)
	assert.Equal(t, protocol.StatusCodeInvalidDirection, resp.StatusCode)

	resp = send(`{"order_id":6,"instrument_id":"rb2405","action":"amend","direction":"buy","offset":"open","price":"2690","quantity":1}`)
	assert.Equal(t, uint64(6), resp.OrderID)
	assert.Equal(t, protocol.OrderStatusRejected, resp.Status)
	assert.Equal(t, protocol.StatusCodeInvalidRequestType, resp.StatusCode)
}
