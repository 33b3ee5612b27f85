package handler

import (
	"net/http"

	"custodial-wallet/internal/adapter/http/dto"
	"custodial-wallet/internal/adapter/http/middleware"
	"custodial-wallet/internal/core/domain"
	"custodial-wallet/internal/core/ports"
	"custodial-wallet/pkg/apperror"
	"custodial-wallet/pkg/response"

	"github.com/gin-gonic/gin"
)

// HeaderPaystackSignature carries the webhook's HMAC-SHA512 signature.
const HeaderPaystackSignature = "x-paystack-signature"

// WalletHandler handles wallet-related endpoints.
type WalletHandler struct {
	ledger ports.LedgerService
	query  ports.QueryService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(ledger ports.LedgerService, query ports.QueryService) *WalletHandler {
	return &WalletHandler{ledger: ledger, query: query}
}

// Deposit handles POST /wallet/deposit.
func (h *WalletHandler) Deposit(c *gin.Context) {
	ac, ok := authContext(c)
	if !ok {
		return
	}

	var req dto.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	amount, err := dto.ToMinorUnits(req.Amount)
	if err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	intent, err := h.ledger.InitiateDeposit(c.Request.Context(), ac, amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.CtxAuditResource, intent.Reference)

	response.Created(c, dto.DepositResponse{
		Reference:        intent.Reference,
		AuthorizationURL: intent.AuthorizationURL,
		Amount:           dto.Money(intent.Amount),
	})
}

// PaystackWebhook handles POST /wallet/paystack/webhook. The body is read
// raw because the signature covers the exact bytes.
func (h *WalletHandler) PaystackWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		response.Error(c, apperror.Validation("cannot read request body"))
		return
	}

	if _, err := h.ledger.ReconcileWebhook(c.Request.Context(), body, c.GetHeader(HeaderPaystackSignature)); err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.WebhookAck{Status: true})
}

// DepositStatus handles GET /wallet/deposit/:reference/status.
func (h *WalletHandler) DepositStatus(c *gin.Context) {
	ac, ok := authContext(c)
	if !ok {
		return
	}

	tx, err := h.query.GetDepositStatus(c.Request.Context(), ac, c.Param("reference"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.DepositStatusResponse{
		Reference: tx.ReferenceValue(),
		Status:    string(tx.Status),
		Amount:    dto.Money(tx.Amount),
	})
}

// Balance handles GET /wallet/balance.
func (h *WalletHandler) Balance(c *gin.Context) {
	ac, ok := authContext(c)
	if !ok {
		return
	}

	balance, err := h.query.GetBalance(c.Request.Context(), ac)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.BalanceResponse{Balance: dto.Money(balance)})
}

// Wallet handles GET /wallet.
func (h *WalletHandler) Wallet(c *gin.Context) {
	ac, ok := authContext(c)
	if !ok {
		return
	}

	w, err := h.query.GetWallet(c.Request.Context(), ac)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.WalletResponse{
		WalletNumber: w.WalletNumber,
		Balance:      dto.Money(w.Balance),
	})
}

// Transfer handles POST /wallet/transfer.
func (h *WalletHandler) Transfer(c *gin.Context) {
	ac, ok := authContext(c)
	if !ok {
		return
	}

	var req dto.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	amount, err := dto.ToMinorUnits(req.Amount)
	if err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	result, err := h.ledger.Transfer(c.Request.Context(), ac, ports.TransferRequest{
		WalletNumber: req.WalletNumber,
		Amount:       amount,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.CtxAuditResource, result.Debit.ID.String())

	response.OK(c, dto.TransferResponse{
		Status:      "success",
		Message:     "Transfer completed",
		Transaction: dto.NewTransactionResponse(result.Debit),
	})
}

// Transactions handles GET /wallet/transactions.
func (h *WalletHandler) Transactions(c *gin.Context) {
	ac, ok := authContext(c)
	if !ok {
		return
	}

	var q dto.TransactionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	txs, err := h.query.ListTransactions(c.Request.Context(), ac, q.Filter())
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.TransactionResponse, 0, len(txs))
	for i := range txs {
		items = append(items, dto.NewTransactionResponse(&txs[i]))
	}
	response.Page(c, items, q.Limit, q.Offset, len(items))
}

// authContext fetches the caller or answers 401 when the route was mounted
// without Authenticate.
func authContext(c *gin.Context) (*domain.AuthContext, bool) {
	ac, ok := middleware.GetAuthContext(c)
	if !ok {
		response.Error(c, apperror.ErrUnauthenticated())
		return nil, false
	}
	return ac, true
}
