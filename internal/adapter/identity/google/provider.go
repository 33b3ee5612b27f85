// Package google signs users in with Google's OAuth 2.0 authorization code flow.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"custodial-wallet/config"
	"custodial-wallet/internal/core/domain"
	"custodial-wallet/internal/core/ports"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

const maxUserInfoBytes = 64 << 10

var (
	errUnverifiedEmail = errors.New("google account email is not verified")
	errIncompleteInfo  = errors.New("userinfo response lacks sub or email")
)

// Provider implements ports.IdentityProvider.
type Provider struct {
	oauth       *oauth2.Config
	userInfoURL string
	http        *http.Client
	log         zerolog.Logger
}

// New creates a Provider from cfg. A nil httpClient gets one with cfg.Timeout.
func New(cfg config.IdentityConfig, httpClient *http.Client, log zerolog.Logger) *Provider {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: cfg.UserInfoURL,
		http:        httpClient,
		log:         log,
	}
}

// AuthCodeURL returns the consent page URL carrying state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Exchange trades an authorization code for the signed-in user's identity.
func (p *Provider) Exchange(ctx context.Context, code string) (*domain.Identity, error) {
	if code == "" {
		return nil, errors.New("authorization code is empty")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.http)

	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBytes))
	if err != nil {
		return nil, fmt.Errorf("read userinfo: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo returned status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("userinfo response is not json")
	}

	info := gjson.ParseBytes(body)
	id := &domain.Identity{
		Subject: info.Get("sub").String(),
		Email:   info.Get("email").String(),
		Name:    info.Get("name").String(),
	}
	if id.Subject == "" || id.Email == "" {
		return nil, errIncompleteInfo
	}
	// Google sends email_verified as a bool, some proxies as a string.
	if v := info.Get("email_verified"); v.Exists() && !v.Bool() {
		return nil, errUnverifiedEmail
	}

	p.log.Debug().Str("subject", id.Subject).Msg("google identity resolved")
	return id, nil
}

var _ ports.IdentityProvider = (*Provider)(nil)
