package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenServer struct {
	mu       sync.Mutex
	password int
	refresh  int
	users    []string
}

func (s *tokenServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, secret, ok := r.BasicAuth()
	if !ok || id != "proxy" || secret != "s3cret" {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch r.Form.Get("grant_type") {
	case "password":
		s.password++
		s.users = append(s.users, r.Form.Get("username"))
		fmt.Fprint(w, `{"access_token":"at-pw","token_type":"Bearer","refresh_token":"rt-1","expires_in":300}`)
	case "refresh_token":
		s.refresh++
		if r.Form.Get("refresh_token") != "rt-1" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		fmt.Fprint(w, `{"access_token":"at-rt","token_type":"Bearer","expires_in":300}`)
	default:
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"unsupported_grant_type"}`)
	}
}

func newTokenSource(t *testing.T, url, refreshFile string) *TokenSource {
	t.Helper()
	return NewTokenSource(Credentials{
		TokenURL:     url,
		ClientID:     "proxy",
		ClientSecret: "s3cret",
		Username:     "tracker",
		Password:     "pw",
	}, refreshFile, quietLogger())
}

func TestTokenSource_PasswordGrantStoresRefreshToken(t *testing.T) {
	ts := &tokenServer{}
	srv := httptest.NewServer(ts)
	defer srv.Close()
	file := filepath.Join(t.TempDir(), "refresh_token.txt")

	src := newTokenSource(t, srv.URL, file)
	tok, err := src.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-pw", tok)
	assert.Equal(t, []string{"tracker"}, ts.users)

	stored, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "rt-1", string(stored))

	// Still valid, no second round trip.
	tok, err = src.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-pw", tok)
	assert.Equal(t, 1, ts.password)
	assert.Zero(t, ts.refresh)
}

func TestTokenSource_UsesStoredRefreshToken(t *testing.T) {
	ts := &tokenServer{}
	srv := httptest.NewServer(ts)
	defer srv.Close()
	file := filepath.Join(t.TempDir(), "refresh_token.txt")
	require.NoError(t, os.WriteFile(file, []byte("rt-1\n"), 0o600))

	tok, err := newTokenSource(t, srv.URL, file).AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-rt", tok)
	assert.Zero(t, ts.password)
	assert.Equal(t, 1, ts.refresh)
}

func TestTokenSource_StaleRefreshTokenFallsBackToPassword(t *testing.T) {
	ts := &tokenServer{}
	srv := httptest.NewServer(ts)
	defer srv.Close()
	file := filepath.Join(t.TempDir(), "refresh_token.txt")
	require.NoError(t, os.WriteFile(file, []byte("stale"), 0o600))

	tok, err := newTokenSource(t, srv.URL, file).AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-pw", tok)
	assert.Equal(t, 1, ts.refresh)
	assert.Equal(t, 1, ts.password)

	stored, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "rt-1", string(stored))
}

func TestTokenSource_BadClient(t *testing.T) {
	srv := httptest.NewServer(&tokenServer{})
	defer srv.Close()

	src := NewTokenSource(Credentials{TokenURL: srv.URL, ClientID: "who"}, "", quietLogger())
	_, err := src.AccessToken(context.Background())
	assert.Error(t, err)
}
