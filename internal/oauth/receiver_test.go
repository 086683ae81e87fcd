package oauth

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func tokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		assert.Equal(t, "client", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"bearer","expires_in":3600,"refresh_token":"def"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testReceiver(t *testing.T, tokenURL string) (*Receiver, string) {
	t.Helper()
	cfg := NewConfig(Credentials{ClientID: "client", ClientSecret: "secret"})
	cfg.Endpoint.TokenURL = tokenURL
	cfg.Endpoint.AuthStyle = oauth2.AuthStyleInParams

	r := NewReceiver(cfg, "127.0.0.1:0", nil)
	authURL, err := r.Begin(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "client", u.Query().Get("client_id"))
	assert.Equal(t, Scope, u.Query().Get("scope"))
	assert.Equal(t, RedirectURL, u.Query().Get("redirect_uri"))
	return r, u.Query().Get("state")
}

// redirect sends a bare request line the way a browser would start one
func redirect(t *testing.T, r *Receiver, target string) string {
	t.Helper()
	conn, err := net.Dial("tcp", r.Addr().String())
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, err = fmt.Fprintf(conn, "GET %s HTTP/1.1\r\n", target)
	require.NoError(t, err)
	resp, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(resp)
}

func pollResult(t *testing.T, r *Receiver) Result {
	t.Helper()
	var res Result
	require.Eventually(t, func() bool {
		var ok bool
		res, ok = r.Poll()
		return ok
	}, 5*time.Second, 5*time.Millisecond)
	return res
}

func TestReceiverCompletesFlow(t *testing.T) {
	srv := tokenServer(t)
	r, state := testReceiver(t, srv.URL)
	require.True(t, r.Active())

	_, ok := r.Poll()
	require.False(t, ok)

	resp := redirect(t, r, "/favicon.ico")
	assert.Contains(t, resp, "200 OK")
	_, ok = r.Poll()
	require.False(t, ok, "requests without a code are ignored")

	resp = redirect(t, r, "/?code=the-code&state="+url.QueryEscape(state))
	assert.Contains(t, resp, closeTabBody)

	res := pollResult(t, r)
	require.NoError(t, res.Err)
	assert.Equal(t, "abc", res.Token.AccessToken)
	assert.Equal(t, "def", res.Token.RefreshToken)
	assert.False(t, r.Active(), "the port is released once the result is polled")
	assert.Nil(t, r.Addr())
}

func TestReceiverRejectsForeignState(t *testing.T) {
	r, _ := testReceiver(t, tokenServer(t).URL)

	redirect(t, r, "/?code=the-code&state=forged")
	res := pollResult(t, r)
	assert.ErrorIs(t, res.Err, ErrStateMismatch)
	assert.Nil(t, res.Token)
}

func TestReceiverDenied(t *testing.T) {
	r, state := testReceiver(t, tokenServer(t).URL)

	redirect(t, r, "/?error=access_denied&state="+url.QueryEscape(state))
	res := pollResult(t, r)
	assert.ErrorIs(t, res.Err, ErrDenied)
}

func TestReceiverSingleFlow(t *testing.T) {
	r, _ := testReceiver(t, tokenServer(t).URL)

	_, err := r.Begin(context.Background())
	assert.ErrorIs(t, err, ErrInProgress)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.False(t, r.Active())
}

func TestLoadCredentials(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}

	creds, err := LoadCredentials(write("unix.txt", "id\nsecret\n"))
	require.NoError(t, err)
	assert.Equal(t, Credentials{ClientID: "id", ClientSecret: "secret"}, creds)

	creds, err = LoadCredentials(write("dos.txt", "id\r\nsecret\r\n"))
	require.NoError(t, err)
	assert.Equal(t, Credentials{ClientID: "id", ClientSecret: "secret"}, creds)

	_, err = LoadCredentials(write("short.txt", "id"))
	assert.ErrorIs(t, err, ErrMalformedCredentials)

	_, err = LoadCredentials(filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
