package directory

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, dir Directory, apiKey string) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(NewServer(dir, ServerOptions{APIKey: apiKey}))
	t.Cleanup(srv.Close)
	return srv, NewClient(srv.URL, apiKey, 2*time.Second)
}

func TestServerHealth(t *testing.T) {
	srv, client := newTestServer(t, NewMemoryDirectory(), "secret")

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.NoError(t, client.Ping(context.Background()))
}

func TestServerRequiresAPIKey(t *testing.T) {
	srv, _ := newTestServer(t, NewMemoryDirectory(), "secret")

	wrong := NewClient(srv.URL, "guess", time.Second)
	_, err := wrong.Lookup(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	none := NewClient(srv.URL, "", time.Second)
	_, err = none.Drain(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestServerRejectsMismatchedUsername(t *testing.T) {
	srv, _ := newTestServer(t, NewMemoryDirectory(), "")

	body := `{"username":"mallory","node_id":"x"}`
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/users/alice", strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerRejectsBadJSON(t *testing.T) {
	srv, _ := newTestServer(t, NewMemoryDirectory(), "")

	resp, err := http.Post(srv.URL+"/relay/bob", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerOversizeBody(t *testing.T) {
	dir := NewMemoryDirectory()
	srv := httptest.NewServer(NewServer(dir, ServerOptions{MaxBodyBytes: 128}))
	defer srv.Close()

	big := `{"msg_id":"m1","from":"alice","payload":"` + strings.Repeat("A", 1024) + `"}`
	resp, err := http.Post(srv.URL+"/relay/bob", "application/json", strings.NewReader(big))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Zero(t, dir.Pending("bob"))
}

func TestClientMapsUnavailable(t *testing.T) {
	dir := NewMemoryDirectory()
	_, client := newTestServer(t, dir, "")

	dir.FailNext(1)
	err := client.Heartbeat(context.Background(), "alice", "")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, Retryable(err))
}

func TestClientUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(url, "", 500*time.Millisecond)
	_, err := client.Lookup(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrUnavailable)

	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, OpLookup, derr.Op)
}

func TestClientDrainEmpty(t *testing.T) {
	_, client := newTestServer(t, NewMemoryDirectory(), "")
	bundles, err := client.Drain(context.Background(), "bob")
	require.NoError(t, err)
	assert.Empty(t, bundles)
}

func TestServerMetricsEndpoint(t *testing.T) {
	srv, client := newTestServer(t, NewMemoryDirectory(), "secret")
	require.NoError(t, client.Push(context.Background(), "bob", "alice", testBundle("m1")))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "peerchat_relay_bundles_stored_total")
}
