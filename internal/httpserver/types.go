package httpserver

// accountNumberBearer is implemented by every request whose effective
// target is a single account, so the lock guard can be applied uniformly
// without knowing the request shape.
type accountNumberBearer interface {
	LockAccountNumber() string
}

type openAccountRequest struct {
	UserID              int64 `json:"user_id" binding:"required"`
	InitialBalanceCents int64 `json:"initial_balance_cents"`
}

type closeAccountRequest struct {
	UserID        int64  `json:"user_id" binding:"required"`
	AccountNumber string `json:"account_number" binding:"required"`
}

type useBalanceRequest struct {
	UserID        int64          `json:"user_id" binding:"required"`
	AccountNumber string         `json:"account_number" binding:"required"`
	AmountCents   int64          `json:"amount_cents" binding:"required"`
	Metadata      map[string]any `json:"metadata"`
}

func (request useBalanceRequest) LockAccountNumber() string {
	return request.AccountNumber
}

type cancelBalanceRequest struct {
	TransactionID string         `json:"transaction_id" binding:"required"`
	AccountNumber string         `json:"account_number" binding:"required"`
	AmountCents   int64          `json:"amount_cents" binding:"required"`
	Metadata      map[string]any `json:"metadata"`
}

func (request cancelBalanceRequest) LockAccountNumber() string {
	return request.AccountNumber
}

type accountPayload struct {
	UserID              int64  `json:"user_id"`
	AccountNumber       string `json:"account_number"`
	Status              string `json:"status"`
	BalanceCents        int64  `json:"balance_cents"`
	RegisteredAtUnixUTC int64  `json:"registered_at_unix_utc"`
	ClosedAtUnixUTC     int64  `json:"closed_at_unix_utc,omitempty"`
}

type accountInfoPayload struct {
	AccountNumber string `json:"account_number"`
	BalanceCents  int64  `json:"balance_cents"`
}

type transactionPayload struct {
	AccountNumber       string `json:"account_number"`
	TransactionResult   string `json:"transaction_result"`
	TransactionID       string `json:"transaction_id"`
	AmountCents         int64  `json:"amount_cents"`
	TransactedAtUnixUTC int64  `json:"transacted_at_unix_utc"`
}

type transactionDetailPayload struct {
	AccountNumber        string `json:"account_number"`
	TransactionType      string `json:"transaction_type"`
	TransactionResult    string `json:"transaction_result"`
	AmountCents          int64  `json:"amount_cents"`
	BalanceSnapshotCents int64  `json:"balance_snapshot_cents"`
	TransactionID        string `json:"transaction_id"`
	TransactedAtUnixUTC  int64  `json:"transacted_at_unix_utc"`
}
