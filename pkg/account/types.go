package account

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// AmountCents is a strictly positive operation amount in minor currency units.
type AmountCents int64

// BalanceCents is a non-negative account balance in minor currency units.
type BalanceCents int64

// UserID identifies an account owner.
type UserID struct {
	value int64
}

// AccountNumber identifies an account (fixed-width numeric string).
type AccountNumber struct {
	value string
}

// TransactionID identifies one ledger record (opaque, unique per attempt).
type TransactionID struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// AccountStatus defines the account lifecycle.
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusClosed AccountStatus = "closed"
)

// TransactionType enumerates ledger record kinds.
type TransactionType string

const (
	TransactionTypeUse    TransactionType = "use"
	TransactionTypeCancel TransactionType = "cancel"
)

// TransactionResult enumerates attempt outcomes.
type TransactionResult string

const (
	TransactionResultSuccess TransactionResult = "success"
	TransactionResultFailure TransactionResult = "failure"
)

// NewUserID validates a user id.
func NewUserID(raw int64) (UserID, error) {
	if raw <= 0 {
		return UserID{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidUserID)
	}
	return UserID{value: raw}, nil
}

// Int64 returns the numeric identifier.
func (id UserID) Int64() int64 {
	return id.value
}

// NewAccountNumber validates and normalizes an account number.
func NewAccountNumber(raw string) (AccountNumber, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) != accountNumberLength {
		return AccountNumber{}, fmt.Errorf("%w: must be %d digits", ErrInvalidAccountNumber, accountNumberLength)
	}
	for _, digit := range trimmed {
		if digit < '0' || digit > '9' {
			return AccountNumber{}, fmt.Errorf("%w: must be numeric", ErrInvalidAccountNumber)
		}
	}
	return AccountNumber{value: trimmed}, nil
}

// String returns the normalized account number.
func (number AccountNumber) String() string {
	return number.value
}

// Next returns the account number one past this one, zero padded to width.
func (number AccountNumber) Next() (AccountNumber, error) {
	parsed, err := strconv.ParseInt(number.value, 10, 64)
	if err != nil {
		return AccountNumber{}, fmt.Errorf("%w: %v", ErrInvalidAccountNumber, err)
	}
	return NewAccountNumber(fmt.Sprintf("%0*d", accountNumberLength, parsed+1))
}

// NewTransactionID validates and normalizes a transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TransactionID) String() string {
	return id.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// NewAmountCents validates an amount and ensures it is strictly positive.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// Int64 returns the raw amount.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// NewBalanceCents validates a balance and ensures it is non-negative.
func NewBalanceCents(raw int64) (BalanceCents, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidBalanceCents)
	}
	return BalanceCents(raw), nil
}

// Int64 returns the raw balance.
func (balance BalanceCents) Int64() int64 {
	return int64(balance)
}

// ParseAccountStatus validates a stored status value.
func ParseAccountStatus(raw string) (AccountStatus, error) {
	switch AccountStatus(raw) {
	case AccountStatusActive, AccountStatusClosed:
		return AccountStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAccountStatus, raw)
}

// String returns the stored status value.
func (status AccountStatus) String() string {
	return string(status)
}

// ParseTransactionType validates a stored type value.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(raw) {
	case TransactionTypeUse, TransactionTypeCancel:
		return TransactionType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
}

// String returns the stored type value.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// ParseTransactionResult validates a stored result value.
func ParseTransactionResult(raw string) (TransactionResult, error) {
	switch TransactionResult(raw) {
	case TransactionResultSuccess, TransactionResultFailure:
		return TransactionResult(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionResult, raw)
}

// String returns the stored result value.
func (result TransactionResult) String() string {
	return string(result)
}

// Account is the balance-bearing entity mutated only by the engine.
type Account struct {
	Number              AccountNumber
	UserID              UserID
	Status              AccountStatus
	BalanceCents        BalanceCents
	RegisteredAtUnixUTC int64
	ClosedAtUnixUTC     int64
}

// Debit removes amount from the balance, refusing to go negative.
func (account *Account) Debit(amount AmountCents) error {
	if amount.Int64() > account.BalanceCents.Int64() {
		return ErrAmountExceedsBalance
	}
	updated, err := NewBalanceCents(account.BalanceCents.Int64() - amount.Int64())
	if err != nil {
		return err
	}
	account.BalanceCents = updated
	return nil
}

// Credit adds amount back to the balance.
func (account *Account) Credit(amount AmountCents) error {
	updated, err := NewBalanceCents(account.BalanceCents.Int64() + amount.Int64())
	if err != nil {
		return err
	}
	account.BalanceCents = updated
	return nil
}

// User is the account owner resolved through the store.
type User struct {
	ID   UserID
	Name string
}

// Transaction is a single immutable line in the ledger, one per attempt.
type Transaction struct {
	TransactionID        TransactionID
	AccountNumber        AccountNumber
	Type                 TransactionType
	Result               TransactionResult
	AmountCents          AmountCents
	BalanceSnapshotCents BalanceCents
	Metadata             MetadataJSON
	TransactedAtUnixUTC  int64
	CanceledAtUnixUTC    int64
}

// Canceled reports whether a cancel has already consumed this record.
func (transaction Transaction) Canceled() bool {
	return transaction.CanceledAtUnixUTC != 0
}

// Store is the persistence contract used by Service. Lookups report a
// distinguishable not-found outcome (ErrUserNotFound, ErrAccountNotFound,
// ErrTransactionNotFound) versus storage failure.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetUser(ctx context.Context, userID UserID) (User, error)
	GetAccount(ctx context.Context, accountNumber AccountNumber) (Account, error)
	GetTransaction(ctx context.Context, transactionID TransactionID) (Transaction, error)
	CreateAccount(ctx context.Context, account Account) error
	SaveAccount(ctx context.Context, account Account) error
	InsertTransaction(ctx context.Context, transaction Transaction) error
	MarkTransactionCanceled(ctx context.Context, transactionID TransactionID, canceledAtUnixUTC int64) error
	CountAccountsByUser(ctx context.Context, userID UserID) (int64, error)
	LatestAccountNumber(ctx context.Context) (AccountNumber, bool, error)
	ListAccountsByUser(ctx context.Context, userID UserID) ([]Account, error)
}
