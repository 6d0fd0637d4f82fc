package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/peerchat"
	"github.com/opd-ai/peerchat/crypto"
	"github.com/opd-ai/peerchat/directory"
	"github.com/opd-ai/peerchat/messaging"
	"github.com/opd-ai/peerchat/transport"
)

type testPeer struct {
	node   *peerchat.Node
	mt     *transport.MockTransport
	broker *Broker
	srv    *httptest.Server
}

type harness struct {
	network *transport.MockNetwork
	dir     *directory.MemoryDirectory
}

func newHarness() *harness {
	return &harness{
		network: transport.NewMockNetwork(),
		dir:     directory.NewMemoryDirectory(),
	}
}

func (h *harness) startPeer(t *testing.T, username string) *testPeer {
	t.Helper()
	id, err := crypto.NewIdentity(username)
	require.NoError(t, err)

	opts := peerchat.NewOptions()
	opts.HeartbeatInterval = time.Hour
	opts.ConnectTimeout = 200 * time.Millisecond
	opts.Retry = peerchat.Backoff{BaseDelay: 5 * time.Millisecond, Multiplier: 1.5, MaxDelay: 20 * time.Millisecond, MaxAttempts: 2}

	p := &testPeer{
		mt:     h.network.NewTransport(username + ":7400"),
		broker: NewBroker(16),
	}
	p.node, err = peerchat.New(peerchat.Deps{
		Identity:  id,
		Transport: p.mt,
		Directory: h.dir,
		Events:    p.broker,
	}, opts)
	require.NoError(t, err)
	require.NoError(t, p.node.Start(context.Background()))

	p.srv = httptest.NewServer(NewServer(p.node, p.broker, Options{KeepAlive: 50 * time.Millisecond}))
	t.Cleanup(func() {
		p.srv.Close()
		p.broker.Close()
		p.node.Stop()
	})
	return p
}

func (p *testPeer) do(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, p.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func befriend(t *testing.T, a, b *testPeer) {
	t.Helper()
	resp, _ := a.do(t, http.MethodPost, "/friends", addFriendRequest{Username: b.node.Username()})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = b.do(t, http.MethodPost, "/friends", addFriendRequest{Username: a.node.Username()})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestBridgeStatus(t *testing.T) {
	h := newHarness()
	alice := h.startPeer(t, "alice")

	resp, body := alice.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st peerchat.Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, "alice", st.Username)
	assert.Equal(t, peerchat.PresenceOnline, st.Presence)
	assert.Len(t, st.PublicKey, 64)
}

func TestBridgeFriends(t *testing.T) {
	h := newHarness()
	alice := h.startPeer(t, "alice")
	bob := h.startPeer(t, "bob")

	tests := []struct {
		name       string
		username   string
		wantStatus int
	}{
		{"new friend", "bob", http.StatusCreated},
		{"existing friend", "bob", http.StatusOK},
		{"unknown user", "nobody", http.StatusNotFound},
		{"self", "alice", http.StatusBadRequest},
		{"invalid username", "bad name", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := alice.do(t, http.MethodPost, "/friends", addFriendRequest{Username: tt.username})
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}

	resp, body := alice.do(t, http.MethodGet, "/friends", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Friends []friendView `json:"friends"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Friends, 1)
	assert.Equal(t, "bob", list.Friends[0].Username)
	pub := bob.node.Status().PublicKey
	assert.Equal(t, pub, list.Friends[0].PublicKey)
	assert.True(t, list.Friends[0].Online)

	resp, _ = alice.do(t, http.MethodDelete, "/friends/bob", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, body = alice.do(t, http.MethodDelete, "/friends/bob", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var errBody errorResponse
	require.NoError(t, json.Unmarshal(body, &errBody))
	assert.Equal(t, "unknown_friend", errBody.Code)
}

func TestBridgeRejectsBadJSON(t *testing.T) {
	h := newHarness()
	alice := h.startPeer(t, "alice")

	resp, err := http.Post(alice.srv.URL+"/friends", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBridgeSendMessage(t *testing.T) {
	h := newHarness()
	alice := h.startPeer(t, "alice")
	bob := h.startPeer(t, "bob")
	befriend(t, alice, bob)

	resp, body := alice.do(t, http.MethodPost, "/messages", sendMessageRequest{To: "bob", Text: "hello", MsgID: "m-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msg messaging.Message
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.Equal(t, "m-1", msg.ID)
	assert.Equal(t, messaging.StateDelivered, msg.State)
	assert.Equal(t, messaging.MethodDirect, msg.Method)

	// Same msg_id returns the stored record.
	resp, body = alice.do(t, http.MethodPost, "/messages", sendMessageRequest{To: "bob", Text: "hello", MsgID: "m-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.Equal(t, messaging.StateDelivered, msg.State)

	require.Eventually(t, func() bool {
		msgs, err := bob.node.Messages(context.Background(), "alice", 0, 0)
		return err == nil && len(msgs) == 1
	}, time.Second, 10*time.Millisecond)

	resp, body = alice.do(t, http.MethodGet, "/messages?peer=bob&limit=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Messages []messaging.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Messages, 1)
	assert.Equal(t, "hello", list.Messages[0].Text)
	assert.Equal(t, messaging.DirectionSent, list.Messages[0].Direction)
}

func TestBridgeSendMessageRelayed(t *testing.T) {
	h := newHarness()
	alice := h.startPeer(t, "alice")
	bob := h.startPeer(t, "bob")
	befriend(t, alice, bob)

	bob.mt.SetOffline(true)
	resp, body := alice.do(t, http.MethodPost, "/messages", sendMessageRequest{To: "bob", Text: "later"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var msg messaging.Message
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.Equal(t, messaging.StateRelayed, msg.State)
	assert.Equal(t, 1, h.dir.Pending("bob"))
}

func TestBridgeSendMessageErrors(t *testing.T) {
	h := newHarness()
	alice := h.startPeer(t, "alice")
	bob := h.startPeer(t, "bob")
	befriend(t, alice, bob)

	tests := []struct {
		name       string
		req        sendMessageRequest
		wantStatus int
		wantCode   string
	}{
		{"unknown friend", sendMessageRequest{To: "carol", Text: "hi"}, http.StatusNotFound, "unknown_friend"},
		{"empty text", sendMessageRequest{To: "bob", Text: ""}, http.StatusBadRequest, "invalid_request"},
		{"oversize msg id", sendMessageRequest{To: "bob", Text: "hi", MsgID: strings.Repeat("x", 200)}, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := alice.do(t, http.MethodPost, "/messages", tt.req)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			var errBody errorResponse
			require.NoError(t, json.Unmarshal(body, &errBody))
			assert.Equal(t, tt.wantCode, errBody.Code)
		})
	}
}

func TestBridgeListMessagesValidation(t *testing.T) {
	h := newHarness()
	alice := h.startPeer(t, "alice")

	for _, path := range []string{
		"/messages?peer=bob&limit=abc",
		"/messages?peer=bob&offset=-1",
		"/messages?peer=",
	} {
		resp, _ := alice.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}

	resp, body := alice.do(t, http.MethodGet, "/messages?peer=bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"messages":[]}`, string(body))
}

func TestBridgeTyping(t *testing.T) {
	h := newHarness()
	alice := h.startPeer(t, "alice")
	bob := h.startPeer(t, "bob")
	befriend(t, alice, bob)

	resp, _ := alice.do(t, http.MethodPost, "/typing", typingRequest{To: "bob", Typing: true})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = alice.do(t, http.MethodPost, "/typing", typingRequest{To: "carol", Typing: true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	bob.mt.SetOffline(true)
	resp, body := alice.do(t, http.MethodPost, "/typing", typingRequest{To: "bob", Typing: false})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Contains(t, string(body), "dropped")
}

func TestBridgeEventStream(t *testing.T) {
	h := newHarness()
	alice := h.startPeer(t, "alice")
	bob := h.startPeer(t, "bob")
	befriend(t, alice, bob)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(bob.srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)

	_, err = alice.node.SendMessage(context.Background(), "bob", "ping")
	require.NoError(t, err)

	var data string
	for data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == "event: new_message\n" {
			next, err := reader.ReadString('\n')
			require.NoError(t, err)
			data = strings.TrimPrefix(strings.TrimSuffix(next, "\n"), "data: ")
		}
	}

	var ev peerchat.Event
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, peerchat.EventNewMessage, ev.Type)
	assert.Equal(t, "alice", ev.Peer)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "ping", ev.Message.Text)
}

func TestBridgeCORSPreflight(t *testing.T) {
	h := newHarness()
	alice := h.startPeer(t, "alice")

	req, err := http.NewRequest(http.MethodOptions, alice.srv.URL+"/messages", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestBridgeMetrics(t *testing.T) {
	h := newHarness()
	alice := h.startPeer(t, "alice")

	alice.do(t, http.MethodGet, "/status", nil)
	want := `peerchat_http_requests_total{method="GET",route="/status",server="bridge",status="200"}`
	assert.Eventually(t, func() bool {
		resp, body := alice.do(t, http.MethodGet, "/metrics", nil)
		return resp.StatusCode == http.StatusOK && strings.Contains(string(body), want)
	}, time.Second, 10*time.Millisecond)
}
