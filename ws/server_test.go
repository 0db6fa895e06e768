package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"meeting-server/domain"
	"meeting-server/runtime"
	"meeting-server/runtime/workers"
)

func newTestServer(t *testing.T) (*httptest.Server, *runtime.Rooms) {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	supervisor := workers.NewSupervisor(log, 10*time.Millisecond)
	rooms := runtime.NewRooms(log, supervisor, 16, time.Second, nil)
	rooms.Start(t.Context())

	server := NewServer(log, rooms, 32)
	ts := httptest.NewServer(server.Routes(nil))
	t.Cleanup(ts.Close)
	return ts, rooms
}

func dial(t *testing.T, ts *httptest.Server, roomID, participantID, name string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?" + url.Values{
		"id":            {roomID},
		"participantId": {participantID},
		"name":          {name},
	}.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func sendFrame(t *testing.T, conn *websocket.Conn, frameType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Frame{Type: frameType, Payload: raw}))
}

func TestHandleWS_JoinHandshake(t *testing.T) {
	req := require.New(t)
	ts, _ := newTestServer(t)

	// Given a connected participant
	first := dial(t, ts, "m1", "p1", "Alice")
	initFrame := readFrame(t, first)
	req.Equal("init", initFrame.Type)

	// When a second one connects
	second := dial(t, ts, "m1", "p2", "Bob")

	// Then the joiner's first frame is its snapshot, listing both
	snapshot := readFrame(t, second)
	req.Equal("init", snapshot.Type)
	var state domain.PublicState
	req.NoError(json.Unmarshal(snapshot.Payload, &state))
	req.Len(state.Participants, 2)

	// And the earlier participant is told about the join
	joined := readFrame(t, first)
	req.Equal("participant-joined", joined.Type)
	var participant domain.Participant
	req.NoError(json.Unmarshal(joined.Payload, &participant))
	req.Equal("p2", participant.ID)
}

func TestHandleWS_RefusesBadHandshakes(t *testing.T) {
	req := require.New(t)
	ts, _ := newTestServer(t)

	// Missing meeting id : refused before the upgrade
	resp, err := http.Get(ts.URL + "/ws?participantId=p1&name=Alice")
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusBadRequest, resp.StatusCode)

	// Missing participant id : refused as well
	resp2, err := http.Get(ts.URL + "/ws?id=m1&name=Alice")
	req.NoError(err)
	defer resp2.Body.Close()
	req.Equal(http.StatusBadRequest, resp2.StatusCode)
}

func TestHandleWS_ChatTravelsTheWire(t *testing.T) {
	req := require.New(t)
	ts, _ := newTestServer(t)

	first := dial(t, ts, "m1", "p1", "Alice")
	readFrame(t, first) // init
	second := dial(t, ts, "m1", "p2", "Bob")
	readFrame(t, second) // init
	readFrame(t, first)  // participant-joined

	// When p2 posts a message
	sendFrame(t, second, frameChat, chatPayload{Body: "hello"})

	// Then both ends receive the same authoritative echo
	toFirst := readFrame(t, first)
	toSecond := readFrame(t, second)
	req.Equal("chat-message", toFirst.Type)
	req.Equal("chat-message", toSecond.Type)

	var m1, m2 domain.Message
	req.NoError(json.Unmarshal(toFirst.Payload, &m1))
	req.NoError(json.Unmarshal(toSecond.Payload, &m2))
	req.Equal(m1.ID, m2.ID)
	req.Equal("hello", m1.Body)
	req.Equal(domain.MessageText, m1.Kind)
	req.Equal("Bob", m1.ParticipantName)
}

func TestHandleWS_SignalReachesOnlyItsTarget(t *testing.T) {
	req := require.New(t)
	ts, _ := newTestServer(t)

	first := dial(t, ts, "m1", "p1", "Alice")
	readFrame(t, first)
	second := dial(t, ts, "m1", "p2", "Bob")
	readFrame(t, second)
	readFrame(t, first) // participant-joined

	sendFrame(t, first, frameSignal, domain.SignalEnvelope{
		Kind:    domain.SignalOffer,
		To:      "p2",
		Payload: json.RawMessage(`{"sdp":"v=0"}`),
	})

	forwarded := readFrame(t, second)
	req.Equal("webrtc-signal", forwarded.Type)
	var envelope domain.SignalEnvelope
	req.NoError(json.Unmarshal(forwarded.Payload, &envelope))
	req.Equal("p1", envelope.From)
	req.JSONEq(`{"sdp":"v=0"}`, string(envelope.Payload))
}

func TestHandleWS_DisconnectBroadcastsTheLeave(t *testing.T) {
	req := require.New(t)
	ts, _ := newTestServer(t)

	first := dial(t, ts, "m1", "p1", "Alice")
	readFrame(t, first)
	second := dial(t, ts, "m1", "p2", "Bob")
	readFrame(t, second)
	readFrame(t, first) // participant-joined

	// When p2's socket dies without a goodbye
	req.NoError(second.Close())

	left := readFrame(t, first)
	req.Equal("participant-left", left.Type)
	req.JSONEq(`{"participantId":"p2"}`, string(left.Payload))
}

func TestLifecycleRoutes_InitStateEnd(t *testing.T) {
	req := require.New(t)
	ts, rooms := newTestServer(t)

	// Create the meeting through the lifecycle front door
	body, err := json.Marshal(map[string]any{
		"id":     "m1",
		"hostId": "h1",
		"settings": map[string]any{
			"maxParticipants": 3,
			"allowChat":       false,
		},
	})
	req.NoError(err)
	resp, err := http.Post(ts.URL+"/init", "application/json", bytes.NewReader(body))
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)

	// The state endpoint reflects the merged settings
	stateResp, err := http.Get(ts.URL + "/state?id=m1")
	req.NoError(err)
	defer stateResp.Body.Close()
	req.Equal(http.StatusOK, stateResp.StatusCode)
	var state domain.PublicState
	req.NoError(json.NewDecoder(stateResp.Body).Decode(&state))
	req.Equal("h1", state.HostID)
	req.Equal(3, state.Settings.MaxParticipants)
	req.False(state.Settings.AllowChat)
	req.True(state.Settings.AllowScreenShare)

	// Ending the meeting evicts the room
	endBody, err := json.Marshal(map[string]string{"id": "m1"})
	req.NoError(err)
	endResp, err := http.Post(ts.URL+"/end", "application/json", bytes.NewReader(endBody))
	req.NoError(err)
	defer endResp.Body.Close()
	req.Equal(http.StatusOK, endResp.StatusCode)
	req.Eventually(func() bool {
		return rooms.Len() == 0
	}, time.Second, 5*time.Millisecond)

	// Ending it again still succeeds
	again, err := http.Post(ts.URL+"/end", "application/json", bytes.NewReader(endBody))
	req.NoError(err)
	defer again.Body.Close()
	req.Equal(http.StatusOK, again.StatusCode)
}

func TestLifecycleRoutes_StateOfUnknownMeetingIs404(t *testing.T) {
	req := require.New(t)
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/state?id=nope")
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusNotFound, resp.StatusCode)
}

func TestLifecycleRoutes_Healthz(t *testing.T) {
	req := require.New(t)
	ts, _ := newTestServer(t)

	resp, err := http.Get(fmt.Sprintf("%s/healthz", ts.URL))
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
}
