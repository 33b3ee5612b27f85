package google

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"custodial-wallet/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGoogle struct {
	userInfo   string
	userStatus int
	tokenCalls int
}

func (f *fakeGoogle) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls++
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "http://localhost/cb", r.PostForm.Get("redirect_uri"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"at-123","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at-123", r.Header.Get("Authorization"))
		if f.userStatus != 0 {
			w.WriteHeader(f.userStatus)
		}
		_, _ = io.WriteString(w, f.userInfo)
	})
	return mux
}

func newTestProvider(t *testing.T, f *fakeGoogle) *Provider {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return New(config.IdentityConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost/cb",
		AuthURL:      "https://accounts.example/auth",
		TokenURL:     srv.URL + "/token",
		UserInfoURL:  srv.URL + "/userinfo",
	}, srv.Client(), zerolog.New(io.Discard))
}

func TestAuthCodeURL(t *testing.T) {
	p := newTestProvider(t, &fakeGoogle{})

	u, err := url.Parse(p.AuthCodeURL("state-xyz"))
	require.NoError(t, err)
	assert.Equal(t, "accounts.example", u.Host)
	q := u.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "http://localhost/cb", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "openid email profile", q.Get("scope"))
	assert.Equal(t, "state-xyz", q.Get("state"))
}

func TestExchange_Success(t *testing.T) {
	f := &fakeGoogle{userInfo: `{"sub":"1090","email":"Ada@Example.com","email_verified":true,"name":"Ada L"}`}
	p := newTestProvider(t, f)

	id, err := p.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "1090", id.Subject)
	assert.Equal(t, "Ada@Example.com", id.Email)
	assert.Equal(t, "Ada L", id.Name)
	assert.Equal(t, 1, f.tokenCalls)
}

func TestExchange_Failures(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		userInfo   string
		userStatus int
	}{
		{"empty code", "", "", 0},
		{"rejected code", "bad-code", "", 0},
		{"userinfo error", "good-code", `{"error":"invalid_token"}`, http.StatusUnauthorized},
		{"userinfo not json", "good-code", `nope`, 0},
		{"unverified email", "good-code", `{"sub":"1","email":"a@b.co","email_verified":false}`, 0},
		{"missing subject", "good-code", `{"email":"a@b.co","email_verified":true}`, 0},
		{"missing email", "good-code", `{"sub":"1"}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, &fakeGoogle{userInfo: tt.userInfo, userStatus: tt.userStatus})
			id, err := p.Exchange(context.Background(), tt.code)
			assert.Error(t, err)
			assert.Nil(t, id)
		})
	}
}
