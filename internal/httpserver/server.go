package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/accountd/pkg/account"
	"github.com/MarkoPoloResearchLab/accountd/pkg/lock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server exposes the account service over REST.
type Server struct {
	logger  *zap.Logger
	service *account.Service
	guard   *lock.Guard
	cfg     Config
}

// New wires a Server.
func New(cfg Config, service *account.Service, guard *lock.Guard, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if service == nil {
		return nil, fmt.Errorf("account service is nil")
	}
	if guard == nil {
		return nil, fmt.Errorf("lock guard is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{logger: logger, service: service, guard: guard, cfg: cfg}, nil
}

// Run serves until ctx is canceled, then shuts down gracefully.
func Run(ctx context.Context, cfg Config, service *account.Service, guard *lock.Guard, logger *zap.Logger) error {
	server, err := New(cfg, service, guard, logger)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("accountd listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Router builds the gin engine with all routes registered.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(server.cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     server.cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/account", server.handleOpenAccount)
	router.DELETE("/account", server.handleCloseAccount)
	router.GET("/account", server.handleListAccounts)
	router.POST("/transaction/use", server.handleUseBalance)
	router.POST("/transaction/cancel", server.handleCancelBalance)
	router.GET("/transaction/:transactionId", server.handleQueryTransaction)

	return router
}

func (server *Server) handleOpenAccount(ctx *gin.Context) {
	var request openAccountRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondInvalid(ctx, err)
		return
	}
	userID, err := account.NewUserID(request.UserID)
	if err != nil {
		respondInvalid(ctx, err)
		return
	}
	initialBalance, err := account.NewBalanceCents(request.InitialBalanceCents)
	if err != nil {
		respondInvalid(ctx, err)
		return
	}
	opened, err := server.service.OpenAccount(ctx.Request.Context(), userID, initialBalance)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, accountPayload{
		UserID:              opened.UserID.Int64(),
		AccountNumber:       opened.Number.String(),
		Status:              opened.Status.String(),
		BalanceCents:        opened.BalanceCents.Int64(),
		RegisteredAtUnixUTC: opened.RegisteredAtUnixUTC,
	})
}

func (server *Server) handleCloseAccount(ctx *gin.Context) {
	var request closeAccountRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondInvalid(ctx, err)
		return
	}
	userID, err := account.NewUserID(request.UserID)
	if err != nil {
		respondInvalid(ctx, err)
		return
	}
	accountNumber, err := account.NewAccountNumber(request.AccountNumber)
	if err != nil {
		respondInvalid(ctx, err)
		return
	}
	closed, err := server.service.CloseAccount(ctx.Request.Context(), userID, accountNumber)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, accountPayload{
		UserID:              closed.UserID.Int64(),
		AccountNumber:       closed.Number.String(),
		Status:              closed.Status.String(),
		BalanceCents:        closed.BalanceCents.Int64(),
		RegisteredAtUnixUTC: closed.RegisteredAtUnixUTC,
		ClosedAtUnixUTC:     closed.ClosedAtUnixUTC,
	})
}

func (server *Server) handleListAccounts(ctx *gin.Context) {
	rawUserID, err := strconv.ParseInt(ctx.Query("user_id"), 10, 64)
	if err != nil {
		respondInvalid(ctx, fmt.Errorf("user_id query parameter: %w", err))
		return
	}
	userID, err := account.NewUserID(rawUserID)
	if err != nil {
		respondInvalid(ctx, err)
		return
	}
	accounts, err := server.service.ListAccounts(ctx.Request.Context(), userID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payload := make([]accountInfoPayload, 0, len(accounts))
	for _, item := range accounts {
		payload = append(payload, accountInfoPayload{
			AccountNumber: item.Number.String(),
			BalanceCents:  item.BalanceCents.Int64(),
		})
	}
	ctx.JSON(http.StatusOK, payload)
}

func (server *Server) handleUseBalance(ctx *gin.Context) {
	var request useBalanceRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondInvalid(ctx, err)
		return
	}
	userID, err := account.NewUserID(request.UserID)
	if err != nil {
		respondInvalid(ctx, err)
		return
	}
	accountNumber, err := account.NewAccountNumber(request.AccountNumber)
	if err != nil {
		respondInvalid(ctx, err)
		return
	}
	amount, err := account.NewAmountCents(request.AmountCents)
	if err != nil {
		respondInvalid(ctx, err)
		return
	}
	metadata, err := account.NewMetadataJSON(marshalMetadata(request.Metadata))
	if err != nil {
		respondInvalid(ctx, err)
		return
	}

	var transaction account.Transaction
	operationError := server.withAccountLock(ctx.Request.Context(), request, func(opCtx context.Context) error {
		var useErr error
		transaction, useErr = server.service.UseBalance(opCtx, userID, accountNumber, amount, metadata)
		if useErr != nil {
			server.recordFailure(opCtx, account.TransactionTypeUse, accountNumber, amount, metadata)
		}
		return useErr
	})
	if operationError != nil {
		server.respondError(ctx, operationError)
		return
	}
	ctx.JSON(http.StatusOK, transactionPayload{
		AccountNumber:       transaction.AccountNumber.String(),
		TransactionResult:   transaction.Result.String(),
		TransactionID:       transaction.TransactionID.String(),
		AmountCents:         transaction.AmountCents.Int64(),
		TransactedAtUnixUTC: transaction.TransactedAtUnixUTC,
	})
}

func (server *Server) handleCancelBalance(ctx *gin.Context) {
	var request cancelBalanceRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondInvalid(ctx, err)
		return
	}
	transactionID, err := account.NewTransactionID(request.TransactionID)
	if err != nil {
		respondInvalid(ctx, err)
		return
	}
	accountNumber, err := account.NewAccountNumber(request.AccountNumber)
	if err != nil {
		respondInvalid(ctx, err)
		return
	}
	amount, err := account.NewAmountCents(request.AmountCents)
	if err != nil {
		respondInvalid(ctx, err)
		return
	}
	metadata, err := account.NewMetadataJSON(marshalMetadata(request.Metadata))
	if err != nil {
		respondInvalid(ctx, err)
		return
	}

	var transaction account.Transaction
	operationError := server.withAccountLock(ctx.Request.Context(), request, func(opCtx context.Context) error {
		var cancelErr error
		transaction, cancelErr = server.service.CancelBalance(opCtx, transactionID, accountNumber, amount, metadata)
		if cancelErr != nil {
			server.recordFailure(opCtx, account.TransactionTypeCancel, accountNumber, amount, metadata)
		}
		return cancelErr
	})
	if operationError != nil {
		server.respondError(ctx, operationError)
		return
	}
	ctx.JSON(http.StatusOK, transactionPayload{
		AccountNumber:       transaction.AccountNumber.String(),
		TransactionResult:   transaction.Result.String(),
		TransactionID:       transaction.TransactionID.String(),
		AmountCents:         transaction.AmountCents.Int64(),
		TransactedAtUnixUTC: transaction.TransactedAtUnixUTC,
	})
}

func (server *Server) handleQueryTransaction(ctx *gin.Context) {
	transactionID, err := account.NewTransactionID(ctx.Param("transactionId"))
	if err != nil {
		respondInvalid(ctx, err)
		return
	}
	transaction, err := server.service.QueryTransaction(ctx.Request.Context(), transactionID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, transactionDetailPayload{
		AccountNumber:        transaction.AccountNumber.String(),
		TransactionType:      transaction.Type.String(),
		TransactionResult:    transaction.Result.String(),
		AmountCents:          transaction.AmountCents.Int64(),
		BalanceSnapshotCents: transaction.BalanceSnapshotCents.Int64(),
		TransactionID:        transaction.TransactionID.String(),
		TransactedAtUnixUTC:  transaction.TransactedAtUnixUTC,
	})
}

// withAccountLock serializes the operation against every other
// balance-mutating request for the same account number.
func (server *Server) withAccountLock(ctx context.Context, bearer accountNumberBearer, fn func(ctx context.Context) error) error {
	return server.guard.WithAccountLock(ctx, bearer.LockAccountNumber(), fn)
}

// recordFailure appends the failure ledger record for an attempt that did
// not commit. It runs inside the account's lock scope. Recording can
// itself fail (the account may not exist); that only gets logged so the
// original error reaches the caller.
func (server *Server) recordFailure(ctx context.Context, transactionType account.TransactionType, accountNumber account.AccountNumber, amount account.AmountCents, metadata account.MetadataJSON) {
	var err error
	switch transactionType {
	case account.TransactionTypeUse:
		_, err = server.service.RecordFailedUse(ctx, accountNumber, amount, metadata)
	case account.TransactionTypeCancel:
		_, err = server.service.RecordFailedCancel(ctx, accountNumber, amount, metadata)
	}
	if err != nil {
		server.logger.Warn("failure ledger record not written",
			zap.String("account_number", accountNumber.String()),
			zap.String("transaction_type", transactionType.String()),
			zap.Error(err))
	}
}

func (server *Server) respondError(ctx *gin.Context, err error) {
	status, code := classifyError(err)
	if status == http.StatusInternalServerError {
		server.logger.Error("request failed", zap.Error(err))
	}
	ctx.JSON(status, errorResponse(code, err.Error()))
}

func respondInvalid(ctx *gin.Context, err error) {
	ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, account.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found"
	case errors.Is(err, account.ErrAccountNotFound):
		return http.StatusNotFound, "account_not_found"
	case errors.Is(err, account.ErrTransactionNotFound):
		return http.StatusNotFound, "transaction_not_found"
	case errors.Is(err, account.ErrUserAccountMismatch):
		return http.StatusConflict, "user_account_mismatch"
	case errors.Is(err, account.ErrTransactionAccountMismatch):
		return http.StatusConflict, "transaction_account_mismatch"
	case errors.Is(err, account.ErrAccountAlreadyClosed):
		return http.StatusConflict, "account_already_closed"
	case errors.Is(err, account.ErrAmountExceedsBalance):
		return http.StatusConflict, "amount_exceeds_balance"
	case errors.Is(err, account.ErrCancelMustBeFullAmount):
		return http.StatusConflict, "cancel_must_be_full_amount"
	case errors.Is(err, account.ErrTransactionTooOld):
		return http.StatusConflict, "transaction_too_old_to_cancel"
	case errors.Is(err, account.ErrTransactionAlreadyCanceled):
		return http.StatusConflict, "transaction_already_canceled"
	case errors.Is(err, account.ErrTransactionNotCancelable):
		return http.StatusConflict, "transaction_not_cancelable"
	case errors.Is(err, account.ErrMaxAccountsPerUser):
		return http.StatusConflict, "max_accounts_per_user"
	case errors.Is(err, account.ErrBalanceNotEmpty):
		return http.StatusConflict, "balance_not_empty"
	case errors.Is(err, account.ErrDuplicateAccountNumber):
		return http.StatusConflict, "duplicate_account_number"
	case errors.Is(err, account.ErrDuplicateTransactionID):
		return http.StatusConflict, "duplicate_transaction_id"
	case errors.Is(err, lock.ErrLockAcquisitionFailed):
		return http.StatusConflict, "lock_acquisition_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

func marshalMetadata(metadata map[string]any) string {
	if metadata == nil {
		return "{}"
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
