// Package paystack is the PaymentGateway adapter for Paystack.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"custodial-wallet/config"
	"custodial-wallet/internal/core/ports"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 1 << 20

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements ports.PaymentGateway.
type Client struct {
	baseURL     string
	secretKey   string
	callbackURL string
	http        HTTPClient
	limiter     *rate.Limiter
	signer      ports.SignatureService
	log         zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(c HTTPClient) Option {
	return func(cl *Client) { cl.http = c }
}

// New creates a Paystack client. Outbound calls are throttled to
// cfg.RateLimit requests per second when it is positive.
func New(cfg config.GatewayConfig, signer ports.SignatureService, log zerolog.Logger, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:   cfg.SecretKey,
		callbackURL: cfg.CallbackURL,
		http:        &http.Client{Timeout: timeout},
		signer:      signer,
		log:         log,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type initializeRequest struct {
	Email       string `json:"email"`
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// Initialize calls POST /transaction/initialize. amount is in kobo.
func (c *Client) Initialize(ctx context.Context, email string, amount int64, reference string) (*ports.GatewayInit, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("throttle: %v: %w", err, ports.ErrGatewayUnavailable)
		}
	}

	payload, err := json.Marshal(initializeRequest{
		Email:       email,
		Amount:      amount,
		Reference:   reference,
		CallbackURL: c.callbackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("encode initialize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transaction/initialize", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build initialize request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("initialize %s: %v: %w", reference, err, ports.ErrGatewayUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read initialize response: %v: %w", err, ports.ErrGatewayUnavailable)
	}

	msg := gjson.GetBytes(body, "message").String()
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("initialize %s: status %d: %w", reference, resp.StatusCode, ports.ErrGatewayUnavailable)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, fmt.Errorf("initialize %s: status %d %q: %w", reference, resp.StatusCode, msg, ports.ErrGatewayRejected)
	case !gjson.ValidBytes(body):
		return nil, fmt.Errorf("initialize %s: malformed response: %w", reference, ports.ErrGatewayUnavailable)
	case !gjson.GetBytes(body, "status").Bool():
		return nil, fmt.Errorf("initialize %s: %q: %w", reference, msg, ports.ErrGatewayRejected)
	}

	data := gjson.GetBytes(body, "data")
	authURL := data.Get("authorization_url").String()
	if authURL == "" {
		return nil, fmt.Errorf("initialize %s: response has no authorization_url: %w", reference, ports.ErrGatewayUnavailable)
	}

	c.log.Debug().Str("reference", reference).Int64("amount", amount).Msg("paystack transaction initialized")

	out := &ports.GatewayInit{
		AuthorizationURL: authURL,
		AccessCode:       data.Get("access_code").String(),
		Reference:        data.Get("reference").String(),
	}
	if out.Reference == "" {
		out.Reference = reference
	}
	return out, nil
}

// VerifySignature checks the x-paystack-signature header: hex HMAC-SHA512
// of the raw body keyed by the secret key.
func (c *Client) VerifySignature(rawBody []byte, signature string) bool {
	if c.secretKey == "" {
		return false
	}
	return c.signer.Verify(c.secretKey, rawBody, signature)
}

var errMalformedEvent = errors.New("malformed webhook payload")

// ParseWebhook extracts the reference and outcome from an event body.
// Any amount the payload carries is deliberately not returned.
func (c *Client) ParseWebhook(rawBody []byte) (*ports.WebhookEvent, error) {
	if !gjson.ValidBytes(rawBody) {
		return nil, errMalformedEvent
	}
	root := gjson.ParseBytes(rawBody)
	if !root.IsObject() {
		return nil, errMalformedEvent
	}

	ev := &ports.WebhookEvent{Event: root.Get("event").String()}

	ev.Reference = root.Get("data.reference").String()
	if ev.Reference == "" {
		ev.Reference = root.Get("reference").String()
	}

	status := root.Get("status")
	ev.Success = ev.Event == "charge.success" ||
		root.Get("data.status").String() == "success" ||
		status.Type == gjson.True
	return ev, nil
}

var _ ports.PaymentGateway = (*Client)(nil)
