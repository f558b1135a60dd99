package account

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service contains the balance-transaction domain logic over a Store.
//
// Service itself performs no locking: callers serialize mutating calls per
// account number (see pkg/lock). Within one call, the balance write and the
// ledger append commit atomically through Store.WithTx.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// UseBalance deducts amount from the account's balance and appends a
// success ledger record carrying the post-deduction snapshot.
func (service *Service) UseBalance(ctx context.Context, userID UserID, accountNumber AccountNumber, amount AmountCents, metadata MetadataJSON) (Transaction, error) {
	var transaction Transaction
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		user, err := txStore.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		loadedAccount, err := txStore.GetAccount(ctx, accountNumber)
		if err != nil {
			return err
		}
		if err := validateUseBalance(user, loadedAccount, amount); err != nil {
			return err
		}
		if err := loadedAccount.Debit(amount); err != nil {
			return err
		}
		if err := txStore.SaveAccount(ctx, loadedAccount); err != nil {
			return err
		}
		transaction = service.newTransaction(loadedAccount, TransactionTypeUse, TransactionResultSuccess, amount, metadata)
		return txStore.InsertTransaction(ctx, transaction)
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationUse,
		UserID:        userID,
		AccountNumber: accountNumber,
		TransactionID: transaction.TransactionID,
		Amount:        amount,
		Error:         operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	return transaction, nil
}

func validateUseBalance(user User, loadedAccount Account, amount AmountCents) error {
	if user.ID != loadedAccount.UserID {
		return ErrUserAccountMismatch
	}
	if loadedAccount.Status != AccountStatusActive {
		return ErrAccountAlreadyClosed
	}
	if amount.Int64() > loadedAccount.BalanceCents.Int64() {
		return ErrAmountExceedsBalance
	}
	return nil
}

// CancelBalance reverses a prior successful use in full, crediting the
// amount back and marking the original record canceled so the same id
// cannot be replayed.
func (service *Service) CancelBalance(ctx context.Context, transactionID TransactionID, accountNumber AccountNumber, amount AmountCents, metadata MetadataJSON) (Transaction, error) {
	var transaction Transaction
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		original, err := txStore.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		loadedAccount, err := txStore.GetAccount(ctx, accountNumber)
		if err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		if err := validateCancelBalance(original, loadedAccount, amount, nowUnixUTC); err != nil {
			return err
		}
		if err := loadedAccount.Credit(amount); err != nil {
			return err
		}
		if err := txStore.SaveAccount(ctx, loadedAccount); err != nil {
			return err
		}
		if err := txStore.MarkTransactionCanceled(ctx, transactionID, nowUnixUTC); err != nil {
			return err
		}
		transaction = service.newTransaction(loadedAccount, TransactionTypeCancel, TransactionResultSuccess, amount, metadata)
		return txStore.InsertTransaction(ctx, transaction)
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationCancel,
		AccountNumber: accountNumber,
		TransactionID: transaction.TransactionID,
		Amount:        amount,
		Error:         operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	return transaction, nil
}

func validateCancelBalance(original Transaction, loadedAccount Account, amount AmountCents, nowUnixUTC int64) error {
	if original.AccountNumber != loadedAccount.Number {
		return ErrTransactionAccountMismatch
	}
	if original.Type != TransactionTypeUse || original.Result != TransactionResultSuccess {
		return ErrTransactionNotCancelable
	}
	if original.Canceled() {
		return ErrTransactionAlreadyCanceled
	}
	if original.AmountCents != amount {
		return ErrCancelMustBeFullAmount
	}
	cutoff := time.Unix(nowUnixUTC, 0).UTC().AddDate(-cancelWindowYears, 0, 0).Unix()
	if original.TransactedAtUnixUTC < cutoff {
		return ErrTransactionTooOld
	}
	return nil
}

// QueryTransaction returns the ledger record for a transaction id verbatim.
// Records are immutable once written, so no lock is taken.
func (service *Service) QueryTransaction(ctx context.Context, transactionID TransactionID) (Transaction, error) {
	transaction, err := service.store.GetTransaction(ctx, transactionID)
	service.logOperation(ctx, OperationLog{
		Operation:     operationQuery,
		TransactionID: transactionID,
		Error:         err,
	})
	if err != nil {
		return Transaction{}, err
	}
	return transaction, nil
}

// RecordFailedUse appends a failure ledger record for a use attempt that
// did not commit, against the unchanged balance. Callers invoke it from
// their recovery path so the ledger never silently omits an attempt.
func (service *Service) RecordFailedUse(ctx context.Context, accountNumber AccountNumber, amount AmountCents, metadata MetadataJSON) (Transaction, error) {
	return service.recordFailed(ctx, accountNumber, TransactionTypeUse, amount, metadata)
}

// RecordFailedCancel appends a failure ledger record for a cancel attempt
// that did not commit.
func (service *Service) RecordFailedCancel(ctx context.Context, accountNumber AccountNumber, amount AmountCents, metadata MetadataJSON) (Transaction, error) {
	return service.recordFailed(ctx, accountNumber, TransactionTypeCancel, amount, metadata)
}

func (service *Service) recordFailed(ctx context.Context, accountNumber AccountNumber, transactionType TransactionType, amount AmountCents, metadata MetadataJSON) (Transaction, error) {
	var transaction Transaction
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		loadedAccount, err := txStore.GetAccount(ctx, accountNumber)
		if err != nil {
			return err
		}
		transaction = service.newTransaction(loadedAccount, transactionType, TransactionResultFailure, amount, metadata)
		return txStore.InsertTransaction(ctx, transaction)
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationRecordFailed,
		AccountNumber: accountNumber,
		TransactionID: transaction.TransactionID,
		Amount:        amount,
		Error:         operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	return transaction, nil
}

func (service *Service) newTransaction(loadedAccount Account, transactionType TransactionType, result TransactionResult, amount AmountCents, metadata MetadataJSON) Transaction {
	return Transaction{
		TransactionID:        newTransactionID(),
		AccountNumber:        loadedAccount.Number,
		Type:                 transactionType,
		Result:               result,
		AmountCents:          amount,
		BalanceSnapshotCents: loadedAccount.BalanceCents,
		Metadata:             metadata,
		TransactedAtUnixUTC:  service.nowFn(),
	}
}

func newTransactionID() TransactionID {
	return TransactionID{value: strings.ReplaceAll(uuid.NewString(), "-", "")}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
