package handler

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"

	"custodial-wallet/internal/adapter/http/dto"
	"custodial-wallet/internal/adapter/http/middleware"
	"custodial-wallet/internal/core/ports"
	"custodial-wallet/pkg/apperror"
	"custodial-wallet/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	stateCookie       = "oauth_state"
	stateCookiePath   = "/auth/google"
	stateCookieMaxAge = 600 // seconds
)

// AuthHandler handles the identity provider sign-in endpoints.
type AuthHandler struct {
	idp          ports.IdentityProvider
	authSvc      ports.AuthService
	secureCookie bool
}

// NewAuthHandler creates a new AuthHandler. secureCookie marks the state
// cookie Secure and should be true behind HTTPS.
func NewAuthHandler(idp ports.IdentityProvider, authSvc ports.AuthService, secureCookie bool) *AuthHandler {
	return &AuthHandler{idp: idp, authSvc: authSvc, secureCookie: secureCookie}
}

// GoogleLogin handles GET /auth/google.
func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	state, err := newState()
	if err != nil {
		response.Error(c, apperror.InternalError(err))
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, state, stateCookieMaxAge, stateCookiePath, "", h.secureCookie, true)
	c.Redirect(http.StatusFound, h.idp.AuthCodeURL(state))
}

// GoogleCallback handles GET /auth/google/callback.
func (h *AuthHandler) GoogleCallback(c *gin.Context) {
	expected, err := c.Cookie(stateCookie)
	state := c.Query("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(state)) != 1 {
		response.Error(c, apperror.ErrSignInFailed(errors.New("oauth state mismatch")))
		return
	}
	c.SetCookie(stateCookie, "", -1, stateCookiePath, "", h.secureCookie, true)

	if msg := c.Query("error"); msg != "" {
		response.Error(c, apperror.ErrSignInFailed(errors.New("provider returned error: "+msg)))
		return
	}

	identity, err := h.idp.Exchange(c.Request.Context(), c.Query("code"))
	if err != nil {
		response.Error(c, apperror.ErrSignInFailed(err))
		return
	}

	result, err := h.authSvc.SignIn(c.Request.Context(), identity)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.CtxAuditSubject, result.User.ID)
	c.Set(middleware.CtxAuditResource, result.Wallet.ID.String())

	response.OK(c, dto.SignInResponse{
		AccessToken:  result.AccessToken,
		TokenType:    "bearer",
		ExpiresAt:    result.ExpiresAt,
		UserID:       result.User.ID,
		Email:        result.User.Email,
		WalletNumber: result.Wallet.WalletNumber,
		NewUser:      result.Created,
	})
}

func newState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
