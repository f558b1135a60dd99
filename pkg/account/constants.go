package account

const (
	operationUse          = "use_balance"
	operationCancel       = "cancel_balance"
	operationQuery        = "query_transaction"
	operationRecordFailed = "record_failed"
	operationOpenAccount  = "open_account"
	operationCloseAccount = "close_account"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	accountNumberLength = 10
	firstAccountNumber  = "1000000000"
	maxAccountsPerUser  = 10

	cancelWindowYears = 1
)
