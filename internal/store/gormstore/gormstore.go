package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/accountd/pkg/account"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON   = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19

	errorOperationStore     = "store"
	errorSubjectUser        = "user"
	errorSubjectAccount     = "account"
	errorSubjectTransaction = "transaction"
	errorCodeGet            = "get"
	errorCodeCreate         = "create"
	errorCodeSave           = "save"
	errorCodeInsert         = "insert"
	errorCodeDuplicate      = "duplicate"
	errorCodeInvalid        = "invalid"
	errorCodeCount          = "count"
	errorCodeLatest         = "latest"
	errorCodeList           = "list"
	errorCodeMarkCanceled   = "mark_canceled"
)

// Store implements account.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema. Production postgres deployments manage the
// schema externally; this covers sqlite and tests.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &Account{}, &Transaction{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore account.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetUser(ctx context.Context, userID account.UserID) (account.User, error) {
	var row User
	err := store.db.WithContext(ctx).
		Where("id = ?", userID.Int64()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return account.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, account.ErrUserNotFound)
		}
		return account.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, err)
	}
	parsedID, err := account.NewUserID(row.ID)
	if err != nil {
		return account.User{}, wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
	}
	return account.User{ID: parsedID, Name: row.Name}, nil
}

func (store *Store) GetAccount(ctx context.Context, accountNumber account.AccountNumber) (account.Account, error) {
	var row Account
	query := store.db.WithContext(ctx)
	// sqlite has no row locks; its writes serialize on the database file.
	if store.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := query.
		Where("account_number = ?", accountNumber.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return account.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, account.ErrAccountNotFound)
		}
		return account.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	mapped, err := mapAccount(row)
	if err != nil {
		return account.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return mapped, nil
}

func (store *Store) GetTransaction(ctx context.Context, transactionID account.TransactionID) (account.Transaction, error) {
	var row Transaction
	err := store.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return account.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, account.ErrTransactionNotFound)
		}
		return account.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	mapped, err := mapTransaction(row)
	if err != nil {
		return account.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return mapped, nil
}

func (store *Store) CreateAccount(ctx context.Context, accountRecord account.Account) error {
	row := Account{
		AccountNumber: accountRecord.Number.String(),
		UserID:        accountRecord.UserID.Int64(),
		Status:        accountRecord.Status.String(),
		BalanceCents:  accountRecord.BalanceCents.Int64(),
		RegisteredAt:  time.Unix(accountRecord.RegisteredAtUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isDuplicateKey(err) {
		return wrapStoreError(errorSubjectAccount, errorCodeDuplicate, account.ErrDuplicateAccountNumber)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) SaveAccount(ctx context.Context, accountRecord account.Account) error {
	updates := map[string]interface{}{
		"status":        accountRecord.Status.String(),
		"balance_cents": accountRecord.BalanceCents.Int64(),
		"closed_at":     timePointer(accountRecord.ClosedAtUnixUTC),
	}
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_number = ?", accountRecord.Number.String()).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeSave, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeSave, account.ErrAccountNotFound)
	}
	return nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction account.Transaction) error {
	row := Transaction{
		TransactionID:        transaction.TransactionID.String(),
		AccountNumber:        transaction.AccountNumber.String(),
		Type:                 transaction.Type.String(),
		Result:               transaction.Result.String(),
		AmountCents:          transaction.AmountCents.Int64(),
		BalanceSnapshotCents: transaction.BalanceSnapshotCents.Int64(),
		Metadata:             datatypesJSON(transaction.Metadata.String()),
		TransactedAt:         time.Unix(transaction.TransactedAtUnixUTC, 0).UTC(),
		CanceledAt:           timePointer(transaction.CanceledAtUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isDuplicateKey(err) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, account.ErrDuplicateTransactionID)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) MarkTransactionCanceled(ctx context.Context, transactionID account.TransactionID, canceledAtUnixUTC int64) error {
	canceledAt := time.Unix(canceledAtUnixUTC, 0).UTC()
	result := store.db.WithContext(ctx).
		Model(&Transaction{}).
		Where("transaction_id = ? AND canceled_at IS NULL", transactionID.String()).
		Update("canceled_at", canceledAt)
	if result.Error != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeMarkCanceled, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectTransaction, errorCodeMarkCanceled, account.ErrTransactionAlreadyCanceled)
	}
	return nil
}

func (store *Store) CountAccountsByUser(ctx context.Context, userID account.UserID) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("user_id = ?", userID.Int64()).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectAccount, errorCodeCount, err)
	}
	return count, nil
}

func (store *Store) LatestAccountNumber(ctx context.Context) (account.AccountNumber, bool, error) {
	var row Account
	err := store.db.WithContext(ctx).
		Order("account_number DESC").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return account.AccountNumber{}, false, nil
		}
		return account.AccountNumber{}, false, wrapStoreError(errorSubjectAccount, errorCodeLatest, err)
	}
	number, err := account.NewAccountNumber(row.AccountNumber)
	if err != nil {
		return account.AccountNumber{}, false, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return number, true, nil
}

func (store *Store) ListAccountsByUser(ctx context.Context, userID account.UserID) ([]account.Account, error) {
	var rows []Account
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.Int64()).
		Order("account_number").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	accounts := make([]account.Account, 0, len(rows))
	for _, row := range rows {
		mapped, err := mapAccount(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
		}
		accounts = append(accounts, mapped)
	}
	return accounts, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return account.WrapError(errorOperationStore, subject, code, err)
}

func mapAccount(row Account) (account.Account, error) {
	number, err := account.NewAccountNumber(row.AccountNumber)
	if err != nil {
		return account.Account{}, err
	}
	userID, err := account.NewUserID(row.UserID)
	if err != nil {
		return account.Account{}, err
	}
	status, err := account.ParseAccountStatus(row.Status)
	if err != nil {
		return account.Account{}, err
	}
	balance, err := account.NewBalanceCents(row.BalanceCents)
	if err != nil {
		return account.Account{}, err
	}
	return account.Account{
		Number:              number,
		UserID:              userID,
		Status:              status,
		BalanceCents:        balance,
		RegisteredAtUnixUTC: row.RegisteredAt.Unix(),
		ClosedAtUnixUTC:     timeOrZero(row.ClosedAt),
	}, nil
}

func mapTransaction(row Transaction) (account.Transaction, error) {
	transactionID, err := account.NewTransactionID(row.TransactionID)
	if err != nil {
		return account.Transaction{}, err
	}
	number, err := account.NewAccountNumber(row.AccountNumber)
	if err != nil {
		return account.Transaction{}, err
	}
	transactionType, err := account.ParseTransactionType(row.Type)
	if err != nil {
		return account.Transaction{}, err
	}
	result, err := account.ParseTransactionResult(row.Result)
	if err != nil {
		return account.Transaction{}, err
	}
	amount, err := account.NewAmountCents(row.AmountCents)
	if err != nil {
		return account.Transaction{}, err
	}
	snapshot, err := account.NewBalanceCents(row.BalanceSnapshotCents)
	if err != nil {
		return account.Transaction{}, err
	}
	metadata, err := account.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return account.Transaction{}, err
	}
	return account.Transaction{
		TransactionID:        transactionID,
		AccountNumber:        number,
		Type:                 transactionType,
		Result:               result,
		AmountCents:          amount,
		BalanceSnapshotCents: snapshot,
		Metadata:             metadata,
		TransactedAtUnixUTC:  row.TransactedAt.Unix(),
		CanceledAtUnixUTC:    timeOrZero(row.CanceledAt),
	}, nil
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func timePointer(unixUTC int64) *time.Time {
	if unixUTC == 0 {
		return nil
	}
	value := time.Unix(unixUTC, 0).UTC()
	return &value
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
