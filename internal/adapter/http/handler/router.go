package handler

import (
	"custodial-wallet/internal/adapter/http/middleware"
	"custodial-wallet/internal/core/ports"
	"custodial-wallet/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Authenticator  ports.Authenticator
	AuthSvc        ports.AuthService
	Identity       ports.IdentityProvider // nil = sign-in routes disabled
	KeySvc         ports.APIKeyService
	Ledger         ports.LedgerService
	Query          ports.QueryService
	RateLimitStore ports.RateLimitStore // nil = rate limiting disabled
	AuditSvc       ports.AuditService   // nil = audit logging disabled
	Metrics        *metrics.Metrics     // nil = no /metrics route
	HealthCheckers []ports.HealthChecker
	SecureCookies  bool
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.Metrics(deps.Metrics))
	r.Use(middleware.MaxBodySize(maxBodyBytes))

	// Audit logging (after response)
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		rule, ok := rules[group]
		if deps.RateLimitStore == nil || !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// --- Sign-in (public) ---
	if deps.Identity != nil {
		authHandler := NewAuthHandler(deps.Identity, deps.AuthSvc, deps.SecureCookies)
		auth := r.Group("/auth/google", rl("auth"))
		{
			auth.GET("", authHandler.GoogleLogin)
			auth.GET("/callback", authHandler.GoogleCallback)
		}
	}

	authn := middleware.Authenticate(deps.Authenticator)

	// --- API keys (bearer or API key) ---
	keyHandler := NewKeyHandler(deps.KeySvc)
	keys := r.Group("/keys", authn, rl("keys"))
	{
		keys.GET("", keyHandler.List)
		keys.POST("/create", keyHandler.Create)
		keys.POST("/rollover", keyHandler.Rollover)
		keys.POST("/:id/revoke", keyHandler.Revoke)
	}

	// --- Wallet ---
	walletHandler := NewWalletHandler(deps.Ledger, deps.Query)

	// The provider authenticates with the body signature, not a credential.
	r.POST("/wallet/paystack/webhook", rl("webhook"), walletHandler.PaystackWebhook)

	wallet := r.Group("/wallet", authn)
	{
		wallet.POST("/deposit", rl("deposit"), walletHandler.Deposit)
		wallet.POST("/transfer", rl("transfer"), walletHandler.Transfer)
		wallet.GET("", rl("read"), walletHandler.Wallet)
		wallet.GET("/balance", rl("read"), walletHandler.Balance)
		wallet.GET("/transactions", rl("read"), walletHandler.Transactions)
		wallet.GET("/deposit/:reference/status", rl("read"), walletHandler.DepositStatus)
	}

	return r
}
