package server_test

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatline/internal/testhelpers"
)

const (
	readTimeout = 2 * time.Second
	pngImage    = "\x89PNG\r\n\x1a\nPNGDATA"
)

type messageJSON struct {
	ID       int64   `json:"id"`
	UserID   *int64  `json:"user_id"`
	Text     *string `json:"text"`
	Img      *string `json:"img"`
	Username *string `json:"username"`
	Name     *string `json:"name"`
	Avatar   *string `json:"avatar"`
}

type statusJSON struct {
	ID       int64   `json:"id"`
	Img      string  `json:"img"`
	Username *string `json:"username"`
	Avatar   *string `json:"avatar"`
}

func errorBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	testhelpers.DecodeJSON(t, resp, &body)
	return body.Error
}

func listMessages(t *testing.T, s *testhelpers.TestServer) []messageJSON {
	t.Helper()
	resp := s.Do(t, http.MethodGet, "/api/messages", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var msgs []messageJSON
	testhelpers.DecodeJSON(t, resp, &msgs)
	return msgs
}

func postMessage(t *testing.T, s *testhelpers.TestServer, token, text string) messageJSON {
	t.Helper()
	resp := s.Do(t, http.MethodPost, "/api/messages", token, map[string]string{"text": text})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var msg messageJSON
	testhelpers.DecodeJSON(t, resp, &msg)
	return msg
}

func decodeMessage(t *testing.T, ev testhelpers.Event) messageJSON {
	t.Helper()
	require.Equal(t, "message", ev.Type)
	var msg messageJSON
	require.NoError(t, json.Unmarshal(ev.Payload, &msg))
	return msg
}

func decodeHistory(t *testing.T, ev testhelpers.Event) []messageJSON {
	t.Helper()
	require.Equal(t, "history", ev.Type)
	var msgs []messageJSON
	require.NoError(t, json.Unmarshal(ev.Payload, &msgs))
	return msgs
}

func TestRegisterAndLogin(t *testing.T) {
	s := testhelpers.StartServer(t, nil)

	reg := s.Register(t, "alice", "secret")
	assert.NotZero(t, reg.User.ID)
	assert.Equal(t, "alice", reg.User.Username)
	assert.Equal(t, "alice", reg.User.Name)
	assert.Nil(t, reg.User.Avatar)

	resp := s.Do(t, http.MethodPost, "/api/login", "", map[string]string{"username": "alice", "password": "secret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login testhelpers.AuthResult
	testhelpers.DecodeJSON(t, resp, &login)
	assert.Equal(t, reg.User.ID, login.User.ID)
	assert.NotEmpty(t, login.Token)
}

func TestRegisterAndLoginWithLongPassword(t *testing.T) {
	s := testhelpers.StartServer(t, nil)
	password := strings.Repeat("p", 80)

	reg := s.Register(t, "alice", password)

	resp := s.Do(t, http.MethodPost, "/api/login", "", map[string]string{"username": "alice", "password": password})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login testhelpers.AuthResult
	testhelpers.DecodeJSON(t, resp, &login)
	assert.Equal(t, reg.User.ID, login.User.ID)

	resp = s.Do(t, http.MethodPost, "/api/login", "", map[string]string{"username": "alice", "password": password[:72]})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid", errorBody(t, resp))
}

func TestRegisterErrors(t *testing.T) {
	s := testhelpers.StartServer(t, nil)
	s.Register(t, "bob", "pw")

	resp := s.Do(t, http.MethodPost, "/api/register", "", map[string]string{"username": "bob", "password": "other"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "User exists", errorBody(t, resp))

	resp = s.Do(t, http.MethodPost, "/api/register", "", map[string]string{"username": "carl"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing fields", errorBody(t, resp))

	resp = s.Do(t, http.MethodPost, "/api/register", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoginErrors(t *testing.T) {
	s := testhelpers.StartServer(t, nil)
	s.Register(t, "dana", "right")

	resp := s.Do(t, http.MethodPost, "/api/login", "", map[string]string{"username": "dana"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing", errorBody(t, resp))

	wrongPassword := s.Do(t, http.MethodPost, "/api/login", "", map[string]string{"username": "dana", "password": "wrong"})
	unknownUser := s.Do(t, http.MethodPost, "/api/login", "", map[string]string{"username": "nobody", "password": "wrong"})
	assert.Equal(t, http.StatusBadRequest, wrongPassword.StatusCode)
	assert.Equal(t, http.StatusBadRequest, unknownUser.StatusCode)
	assert.Equal(t, errorBody(t, wrongPassword), errorBody(t, unknownUser))
}

func TestProtectedRoutesRejectMissingOrBadTokens(t *testing.T) {
	s := testhelpers.StartServer(t, nil)

	for _, token := range []string{"", "garbage", "a.b.c"} {
		resp := s.Do(t, http.MethodPost, "/api/messages", token, map[string]string{"text": "hi"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, token)
		assert.Equal(t, "Unauthorized", errorBody(t, resp))
	}

	resp := s.Upload(t, "/api/upload-profile", "", "profile", "a.png", []byte("x"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = s.Upload(t, "/api/status", "", "status", "a.png", []byte("x"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Empty(t, listMessages(t, s))
}

func TestPostMessageAppendsAndLists(t *testing.T) {
	s := testhelpers.StartServer(t, nil)
	alice := s.Register(t, "alice", "pw")

	first := postMessage(t, s, alice.Token, "one")
	second := postMessage(t, s, alice.Token, "two")
	assert.Greater(t, second.ID, first.ID)
	require.NotNil(t, first.Username)
	assert.Equal(t, "alice", *first.Username)

	msgs := listMessages(t, s)
	require.Len(t, msgs, 2)
	assert.Equal(t, first.ID, msgs[0].ID)
	assert.Equal(t, "two", *msgs[1].Text)

	resp := s.Do(t, http.MethodPost, "/api/messages", alice.Token, map[string]string{"text": " "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Len(t, listMessages(t, s), 2)
}

func TestUploadsRequireFile(t *testing.T) {
	s := testhelpers.StartServer(t, nil)
	alice := s.Register(t, "alice", "pw")

	resp := s.Upload(t, "/api/upload-profile", alice.Token, "", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "No file", errorBody(t, resp))

	resp = s.Upload(t, "/api/status", alice.Token, "wrong-field", "a.png", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "No file", errorBody(t, resp))
}

func TestUploadTooLarge(t *testing.T) {
	cfg := testhelpers.NewTestConfig(t)
	cfg.MaxUploadSize = 16
	s := testhelpers.StartServer(t, cfg)
	alice := s.Register(t, "alice", "pw")

	resp := s.Upload(t, "/api/status", alice.Token, "status", "big.png", []byte(strings.Repeat("x", 64)))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAvatarUploadAppliesRetroactively(t *testing.T) {
	s := testhelpers.StartServer(t, nil)
	alice := s.Register(t, "alice", "pw")
	postMessage(t, s, alice.Token, "before avatar")

	resp := s.Upload(t, "/api/upload-profile", alice.Token, "profile", "Face.PNG", []byte(pngImage))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var up struct {
		URL string `json:"url"`
	}
	testhelpers.DecodeJSON(t, resp, &up)
	assert.True(t, strings.HasPrefix(up.URL, "/uploads/"))
	assert.True(t, strings.HasSuffix(up.URL, ".png"))

	msgs := listMessages(t, s)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].Avatar)
	assert.Equal(t, up.URL, *msgs[0].Avatar)

	blobResp := s.Do(t, http.MethodGet, up.URL, "", nil)
	require.Equal(t, http.StatusOK, blobResp.StatusCode)
	assert.Equal(t, "image/png", blobResp.Header.Get("Content-Type"))
	assert.Equal(t, "nosniff", blobResp.Header.Get("X-Content-Type-Options"))
	data, err := io.ReadAll(blobResp.Body)
	require.NoError(t, err)
	assert.Equal(t, pngImage, string(data))

	login := s.Do(t, http.MethodPost, "/api/login", "", map[string]string{"username": "alice", "password": "pw"})
	var auth testhelpers.AuthResult
	testhelpers.DecodeJSON(t, login, &auth)
	require.NotNil(t, auth.User.Avatar)
	assert.Equal(t, up.URL, *auth.User.Avatar)
}

func TestUploadsMustBeImages(t *testing.T) {
	s := testhelpers.StartServer(t, nil)
	alice := s.Register(t, "alice", "pw")

	for name, data := range map[string]string{
		"x.html": "<html><script>alert(document.cookie)</script></html>",
		"x.svg":  `<svg xmlns="http://www.w3.org/2000/svg"><script>alert(1)</script></svg>`,
		"x.png":  "not really a png",
	} {
		resp := s.Upload(t, "/api/status", alice.Token, "status", name, []byte(data))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
		assert.Equal(t, "Unsupported file type", errorBody(t, resp), name)
	}

	resp := s.Do(t, http.MethodGet, "/api/statuses", "", nil)
	var statuses []statusJSON
	testhelpers.DecodeJSON(t, resp, &statuses)
	assert.Empty(t, statuses)

	// The stored name follows the content, not the client's file name.
	resp = s.Upload(t, "/api/upload-profile", alice.Token, "profile", "x.html", []byte(pngImage))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var up struct {
		URL string `json:"url"`
	}
	testhelpers.DecodeJSON(t, resp, &up)
	assert.True(t, strings.HasSuffix(up.URL, ".png"), up.URL)

	blobResp := s.Do(t, http.MethodGet, up.URL, "", nil)
	require.Equal(t, http.StatusOK, blobResp.StatusCode)
	assert.Equal(t, "image/png", blobResp.Header.Get("Content-Type"))
	assert.NotContains(t, blobResp.Header.Get("Content-Type"), "text/html")
}

func TestStatusesNewestFirst(t *testing.T) {
	s := testhelpers.StartServer(t, nil)
	alice := s.Register(t, "alice", "pw")

	var urls []string
	for _, name := range []string{"old.jpg", "new.jpg"} {
		resp := s.Upload(t, "/api/status", alice.Token, "status", name, []byte("GIF89a"+name))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var up struct {
			URL string `json:"url"`
		}
		testhelpers.DecodeJSON(t, resp, &up)
		urls = append(urls, up.URL)
	}

	resp := s.Do(t, http.MethodGet, "/api/statuses", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var statuses []statusJSON
	testhelpers.DecodeJSON(t, resp, &statuses)
	require.Len(t, statuses, 2)
	assert.Equal(t, urls[1], statuses[0].Img)
	assert.Equal(t, urls[0], statuses[1].Img)
	require.NotNil(t, statuses[0].Username)
	assert.Equal(t, "alice", *statuses[0].Username)
}

func TestUnknownUploadIsNotFound(t *testing.T) {
	s := testhelpers.StartServer(t, nil)

	resp := s.Do(t, http.MethodGet, "/uploads/0123456789abcdef0123456789abcdef.png", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = s.Do(t, http.MethodGet, "/uploads/..%2Fdb%2Ftest.sqlite", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	s := testhelpers.StartServer(t, nil)
	conn := s.ConnectWebSocket(t, "")
	testhelpers.ReadEvent(t, conn, readTimeout)

	resp := s.Do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	testhelpers.DecodeJSON(t, resp, &body)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Clients)
}

func TestPushHistoryThenLiveInOrder(t *testing.T) {
	s := testhelpers.StartServer(t, nil)
	alice := s.Register(t, "alice", "pw")

	for _, text := range []string{"m1", "m2", "m3"} {
		postMessage(t, s, alice.Token, text)
	}

	conn := s.ConnectWebSocket(t, "")
	history := decodeHistory(t, testhelpers.ReadEvent(t, conn, readTimeout))
	require.Len(t, history, 3)
	assert.Equal(t, "m1", *history[0].Text)
	assert.Equal(t, "m3", *history[2].Text)

	live := postMessage(t, s, alice.Token, "m4")
	got := decodeMessage(t, testhelpers.ReadEvent(t, conn, readTimeout))
	assert.Equal(t, live.ID, got.ID)
	assert.Equal(t, "m4", *got.Text)
}

func TestRESTPostBroadcastsToAllConnections(t *testing.T) {
	s := testhelpers.StartServer(t, nil)
	alice := s.Register(t, "alice", "pw")

	a := s.ConnectWebSocket(t, "")
	b := s.ConnectWebSocket(t, "")
	testhelpers.ReadEvent(t, a, readTimeout)
	testhelpers.ReadEvent(t, b, readTimeout)

	posted := postMessage(t, s, alice.Token, "hello both")
	gotA := decodeMessage(t, testhelpers.ReadEvent(t, a, readTimeout))
	gotB := decodeMessage(t, testhelpers.ReadEvent(t, b, readTimeout))
	assert.Equal(t, posted, gotA)
	assert.Equal(t, posted, gotB)
}

func TestConcurrentPostsArriveInAppendOrder(t *testing.T) {
	s := testhelpers.StartServer(t, nil)
	alice := s.Register(t, "alice", "pw")

	conn := s.ConnectWebSocket(t, "")
	testhelpers.ReadEvent(t, conn, readTimeout)

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			postMessage(t, s, alice.Token, "concurrent")
		}()
	}
	wg.Wait()

	var last int64
	for i := 0; i < n; i++ {
		msg := decodeMessage(t, testhelpers.ReadEvent(t, conn, readTimeout))
		assert.Greater(t, msg.ID, last)
		last = msg.ID
	}
}

func TestPushSendBroadcastsIncludingSender(t *testing.T) {
	s := testhelpers.StartServer(t, nil)
	alice := s.Register(t, "alice", "pw")

	sender := s.ConnectWebSocket(t, "")
	viewer := s.ConnectWebSocket(t, "")
	testhelpers.ReadEvent(t, sender, readTimeout)
	testhelpers.ReadEvent(t, viewer, readTimeout)

	testhelpers.SendEvent(t, sender, "send", map[string]string{"token": alice.Token, "text": "via socket"})

	fromSender := decodeMessage(t, testhelpers.ReadEvent(t, sender, readTimeout))
	fromViewer := decodeMessage(t, testhelpers.ReadEvent(t, viewer, readTimeout))
	assert.Equal(t, fromSender, fromViewer)
	require.NotNil(t, fromSender.Username)
	assert.Equal(t, "alice", *fromSender.Username)

	msgs := listMessages(t, s)
	require.Len(t, msgs, 1)
	assert.Equal(t, fromSender.ID, msgs[0].ID)
}

func TestPushSendWithBadTokenErrorsOnlyToSender(t *testing.T) {
	s := testhelpers.StartServer(t, nil)

	sender := s.ConnectWebSocket(t, "")
	viewer := s.ConnectWebSocket(t, "")
	testhelpers.ReadEvent(t, sender, readTimeout)
	testhelpers.ReadEvent(t, viewer, readTimeout)

	testhelpers.SendEvent(t, sender, "send", map[string]string{"token": "forged", "text": "nope"})

	ev := testhelpers.ReadEvent(t, sender, readTimeout)
	assert.Equal(t, "error", ev.Type)
	assert.JSONEq(t, `"auth failed"`, string(ev.Payload))

	testhelpers.ExpectNoEvent(t, viewer, 200*time.Millisecond)
	assert.Empty(t, listMessages(t, s))
}

func TestWebSocketOriginPolicy(t *testing.T) {
	cfg := testhelpers.NewTestConfig(t)
	cfg.AllowedOrigins = []string{"http://chat.example.com"}
	s := testhelpers.StartServer(t, cfg)

	conn := s.ConnectWebSocket(t, "http://chat.example.com")
	assert.Equal(t, "history", testhelpers.ReadEvent(t, conn, readTimeout).Type)

	_, resp, err := testhelpers.DialWebSocket(s.WSURL(), "http://evil.example.com")
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
