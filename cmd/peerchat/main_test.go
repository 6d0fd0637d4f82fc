package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/peerchat"
	"github.com/opd-ai/peerchat/config"
	"github.com/opd-ai/peerchat/directory"
	"github.com/opd-ai/peerchat/messaging"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestBanner(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	banner(&buf, peerchat.Status{
		Username:      "alice",
		PublicKey:     strings.Repeat("ab", 32),
		ListenAddr:    "0.0.0.0:7400",
		AdvertiseAddr: "203.0.113.7:7400",
		Presence:      peerchat.PresenceDegraded,
		Friends:       3,
		FriendsOnline: 1,
	}, "127.0.0.1:7401", "https://dir.example")

	out := buf.String()
	assert.Contains(t, out, "User:      alice")
	assert.Contains(t, out, "Key:       abababababababab\n")
	assert.Contains(t, out, "advertised 203.0.113.7:7400")
	assert.Contains(t, out, "http://127.0.0.1:7401")
	assert.Contains(t, out, "degraded, 1/3 friends online")
}

func TestInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	out, err := execute(t, "init", "alice", "-o", path, "--directory", "https://dir.example")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.Node.Username)
	assert.Equal(t, "https://dir.example", cfg.Directory.URL)

	_, err = execute(t, "init", "alice", "-o", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "init", "bob", "-o", path, "--force")
	require.NoError(t, err)

	_, err = execute(t, "init", "not valid", "-o", filepath.Join(t.TempDir(), "c.json"))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestIdentityCommand(t *testing.T) {
	color.NoColor = true
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	_, err := execute(t, "init", "alice", "-o", path)
	require.NoError(t, err)
	t.Setenv("PEERCHAT_IDENTITY_PATH", filepath.Join(dir, "identity.json"))

	first, err := execute(t, "--config", path, "identity")
	require.NoError(t, err)
	assert.Contains(t, first, "Created new identity")
	assert.Contains(t, first, "Username:    alice")

	second, err := execute(t, "--config", path, "identity")
	require.NoError(t, err)
	assert.NotContains(t, second, "Created new identity")

	keyLine := func(out string) string {
		for _, line := range strings.Split(out, "\n") {
			if strings.HasPrefix(line, "Public key:") {
				return line
			}
		}
		return ""
	}
	assert.NotEmpty(t, keyLine(first))
	assert.Equal(t, keyLine(first), keyLine(second))
}

func TestIdentityCommandEncrypted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	_, err := execute(t, "init", "alice", "-o", path)
	require.NoError(t, err)
	t.Setenv("PEERCHAT_IDENTITY_PATH", filepath.Join(dir, "identity.json"))
	t.Setenv("PEERCHAT_IDENTITY_PASSPHRASE", "correct horse")

	_, err = execute(t, "--config", path, "identity")
	require.NoError(t, err)

	t.Setenv("PEERCHAT_IDENTITY_PASSPHRASE", "wrong")
	_, err = execute(t, "--config", path, "identity")
	assert.Error(t, err)
}

func testConfig(t *testing.T, username, directoryURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Node.Username = username
	cfg.Node.ListenAddr = "127.0.0.1:0"
	cfg.Node.APIAddr = "127.0.0.1:0"
	cfg.Node.IdentityPath = filepath.Join(dir, "identity.json")
	cfg.Node.ContactsPath = filepath.Join(dir, "contacts.json")
	cfg.Node.HistoryPath = filepath.Join(dir, "history.db")
	cfg.Directory.URL = directoryURL
	require.NoError(t, cfg.Validate())
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(a.close)
	require.NoError(t, a.start(context.Background()))
	return a
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestAppEndToEnd(t *testing.T) {
	dirSrv := httptest.NewServer(directory.NewServer(directory.NewMemoryDirectory(), directory.ServerOptions{}))
	defer dirSrv.Close()

	alice := startApp(t, testConfig(t, "alice", dirSrv.URL))
	bob := startApp(t, testConfig(t, "bob", dirSrv.URL))

	aliceAPI := "http://" + alice.apiAddr()
	bobAPI := "http://" + bob.apiAddr()

	resp, err := http.Get(aliceAPI + "/status")
	require.NoError(t, err)
	var st peerchat.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	assert.Equal(t, "alice", st.Username)
	assert.Equal(t, peerchat.PresenceOnline, st.Presence)

	for _, pair := range [][2]string{{aliceAPI, "bob"}, {bobAPI, "alice"}} {
		resp := postJSON(t, pair[0]+"/friends", map[string]string{"username": pair[1]})
		resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp = postJSON(t, aliceAPI+"/messages", map[string]string{"to": "bob", "text": "over tcp"})
	var msg messaging.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, messaging.StateDelivered, msg.State)
	assert.Equal(t, messaging.MethodDirect, msg.Method)

	assert.Eventually(t, func() bool {
		msgs, err := bob.node.Messages(context.Background(), "alice", 0, 0)
		return err == nil && len(msgs) == 1 && msgs[0].Text == "over tcp"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestAppRestartKeepsState(t *testing.T) {
	dirSrv := httptest.NewServer(directory.NewServer(directory.NewMemoryDirectory(), directory.ServerOptions{}))
	defer dirSrv.Close()

	startApp(t, testConfig(t, "bob", dirSrv.URL))

	cfg := testConfig(t, "alice", dirSrv.URL)
	first, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, first.start(context.Background()))
	pub := first.node.Status().PublicKey
	_, err = first.node.AddFriend(context.Background(), "bob")
	require.NoError(t, err)
	first.close()

	second := startApp(t, cfg)
	assert.Equal(t, pub, second.node.Status().PublicKey)
	_, ok := second.node.Friend("bob")
	assert.True(t, ok)
}
