// Package testhelpers starts a complete chatline server for tests and wraps
// the REST and push-channel calls they make against it.
package testhelpers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatline/internal/app"
	"github.com/Tyrowin/chatline/internal/config"
)

// TestServer is a running app behind an httptest server.
type TestServer struct {
	App    *app.App
	Server *httptest.Server
	Config *config.Config
}

// NewTestConfig returns defaults pointed at per-test temp directories.
func NewTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.NewConfig()
	cfg.DatabasePath = filepath.Join(dir, "db", "test.sqlite")
	cfg.UploadDir = filepath.Join(dir, "uploads")
	cfg.JWTSecret = "test-secret"
	cfg.BcryptCost = 4
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// StartServer builds the app from cfg (NewTestConfig when nil) and serves it.
// Everything is torn down with the test.
func StartServer(t *testing.T, cfg *config.Config) *TestServer {
	t.Helper()
	if cfg == nil {
		cfg = NewTestConfig(t)
	}

	a, err := app.New(context.Background(), cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		_ = a.Close()
		srv.Close()
	})

	return &TestServer{App: a, Server: srv, Config: cfg}
}

// URL returns the absolute HTTP URL for path.
func (s *TestServer) URL(path string) string {
	return s.Server.URL + path
}

// WSURL returns the push-channel URL.
func (s *TestServer) WSURL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http") + "/ws"
}

// Do sends a JSON request. body may be nil; token may be empty.
func (s *TestServer) Do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var r io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.URL(path), r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// Upload posts one file in a multipart form under field.
func (s *TestServer) Upload(t *testing.T, path, token, field, filename string, data []byte) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, s.URL(path), &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// DecodeJSON reads the response body into v.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// AuthResult is the body of a successful register or login.
type AuthResult struct {
	User struct {
		ID       int64   `json:"id"`
		Username string  `json:"username"`
		Name     string  `json:"name"`
		Avatar   *string `json:"avatar"`
	} `json:"user"`
	Token string `json:"token"`
}

// Register creates a user and returns the token and profile.
func (s *TestServer) Register(t *testing.T, username, password string) AuthResult {
	t.Helper()

	resp := s.Do(t, http.MethodPost, "/api/register", "", map[string]string{
		"username": username,
		"password": password,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out AuthResult
	DecodeJSON(t, resp, &out)
	require.NotEmpty(t, out.Token)
	return out
}

// Event is a decoded push-channel frame.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ConnectWebSocket dials the push channel with an optional Origin header.
func (s *TestServer) ConnectWebSocket(t *testing.T, origin string) *websocket.Conn {
	t.Helper()

	conn, resp, err := DialWebSocket(s.WSURL(), origin)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// DialWebSocket dials url, returning the handshake response for inspection.
func DialWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	return dialer.Dial(url, headers)
}

// ReadEvent reads one frame within timeout.
func ReadEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) Event {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev), "frame: %s", data)
	return ev
}

// ExpectNoEvent fails if a frame arrives within wait. A timed-out read
// leaves the connection unusable, so this must be the last read on conn.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame: %s", data)
}

// SendEvent writes one event frame.
func SendEvent(t *testing.T, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": eventType, "payload": payload}))
}
