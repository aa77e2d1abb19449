package proxy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// Credentials for the identity provider guarding the SensorThings server.
type Credentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// TokenSource hands out bearer tokens. The first run uses the password grant
// and stores the refresh token in RefreshFile; later runs start from the
// stored refresh token. A rejected refresh token is dropped and the password
// grant is tried again.
type TokenSource struct {
	conf        *oauth2.Config
	creds       Credentials
	refreshFile string
	log         log.FieldLogger

	mu  sync.Mutex
	src oauth2.TokenSource
	rt  string
}

func NewTokenSource(creds Credentials, refreshFile string, logger log.FieldLogger) *TokenSource {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &TokenSource{
		conf: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  creds.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
			Scopes: []string{"offline_access"},
		},
		creds:       creds,
		refreshFile: refreshFile,
		log:         logger,
	}
}

// AccessToken returns a valid access token, refreshing it when it expired.
func (t *TokenSource) AccessToken(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tok, err := t.token(ctx)
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && t.rt != "" {
		t.log.Warnf("proxy: stored refresh token rejected (%v), logging in again", err)
		t.forget()
		tok, err = t.token(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("proxy: access token: %w", err)
	}
	if tok.RefreshToken != "" && tok.RefreshToken != t.rt {
		t.rt = tok.RefreshToken
		t.store()
	}
	return tok.AccessToken, nil
}

func (t *TokenSource) token(ctx context.Context) (*oauth2.Token, error) {
	if t.src == nil {
		if t.rt == "" {
			t.rt = t.load()
		}
		if t.rt == "" {
			tok, err := t.conf.PasswordCredentialsToken(ctx, t.creds.Username, t.creds.Password)
			if err != nil {
				return nil, err
			}
			t.src = t.conf.TokenSource(context.Background(), tok)
		} else {
			t.src = t.conf.TokenSource(context.Background(), &oauth2.Token{RefreshToken: t.rt})
		}
	}
	return t.src.Token()
}

func (t *TokenSource) forget() {
	t.src = nil
	t.rt = ""
	if t.refreshFile != "" {
		_ = os.Remove(t.refreshFile)
	}
}

func (t *TokenSource) load() string {
	if t.refreshFile == "" {
		return ""
	}
	b, err := os.ReadFile(t.refreshFile)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func (t *TokenSource) store() {
	if t.refreshFile == "" {
		return
	}
	if err := os.WriteFile(t.refreshFile, []byte(t.rt), 0o600); err != nil {
		t.log.Warnf("proxy: save refresh token: %v", err)
	}
}
