// Package oplog adapts the domain OperationLogger callback to zap.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/accountd/pkg/account"
	"go.uber.org/zap"
)

// ZapOperationLogger writes one structured log line per account operation.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// New wires a ZapOperationLogger.
func New(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger}
}

// LogOperation implements account.OperationLogger.
func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry account.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.UserID.Int64() != 0 {
		fields = append(fields, zap.Int64("user_id", entry.UserID.Int64()))
	}
	if entry.AccountNumber.String() != "" {
		fields = append(fields, zap.String("account_number", entry.AccountNumber.String()))
	}
	if entry.TransactionID.String() != "" {
		fields = append(fields, zap.String("transaction_id", entry.TransactionID.String()))
	}
	if entry.Amount.Int64() != 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.Amount.Int64()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("account operation failed", fields...)
		return
	}
	operationLogger.logger.Info("account operation", fields...)
}
