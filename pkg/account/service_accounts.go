package account

import "context"

// OpenAccount registers a new account for an existing user. Account numbers
// are issued sequentially starting from firstAccountNumber; a user holds at
// most maxAccountsPerUser accounts, closed ones included.
func (service *Service) OpenAccount(ctx context.Context, userID UserID, initialBalance BalanceCents) (Account, error) {
	var opened Account
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		user, err := txStore.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		count, err := txStore.CountAccountsByUser(ctx, user.ID)
		if err != nil {
			return err
		}
		if count >= maxAccountsPerUser {
			return ErrMaxAccountsPerUser
		}
		number, err := service.nextAccountNumber(ctx, txStore)
		if err != nil {
			return err
		}
		opened = Account{
			Number:              number,
			UserID:              user.ID,
			Status:              AccountStatusActive,
			BalanceCents:        initialBalance,
			RegisteredAtUnixUTC: service.nowFn(),
		}
		return txStore.CreateAccount(ctx, opened)
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationOpenAccount,
		UserID:        userID,
		AccountNumber: opened.Number,
		Error:         operationError,
	})
	if operationError != nil {
		return Account{}, operationError
	}
	return opened, nil
}

func (service *Service) nextAccountNumber(ctx context.Context, txStore Store) (AccountNumber, error) {
	latest, found, err := txStore.LatestAccountNumber(ctx)
	if err != nil {
		return AccountNumber{}, err
	}
	if !found {
		return NewAccountNumber(firstAccountNumber)
	}
	return latest.Next()
}

// CloseAccount marks an account closed. Closed accounts stay in the store;
// the status transition is one way.
func (service *Service) CloseAccount(ctx context.Context, userID UserID, accountNumber AccountNumber) (Account, error) {
	var closed Account
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		user, err := txStore.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		loadedAccount, err := txStore.GetAccount(ctx, accountNumber)
		if err != nil {
			return err
		}
		if err := validateCloseAccount(user, loadedAccount); err != nil {
			return err
		}
		loadedAccount.Status = AccountStatusClosed
		loadedAccount.ClosedAtUnixUTC = service.nowFn()
		if err := txStore.SaveAccount(ctx, loadedAccount); err != nil {
			return err
		}
		closed = loadedAccount
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationCloseAccount,
		UserID:        userID,
		AccountNumber: accountNumber,
		Error:         operationError,
	})
	if operationError != nil {
		return Account{}, operationError
	}
	return closed, nil
}

func validateCloseAccount(user User, loadedAccount Account) error {
	if user.ID != loadedAccount.UserID {
		return ErrUserAccountMismatch
	}
	if loadedAccount.Status != AccountStatusActive {
		return ErrAccountAlreadyClosed
	}
	if loadedAccount.BalanceCents.Int64() > 0 {
		return ErrBalanceNotEmpty
	}
	return nil
}

// ListAccounts returns the user's accounts.
func (service *Service) ListAccounts(ctx context.Context, userID UserID) ([]Account, error) {
	if _, err := service.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return service.store.ListAccountsByUser(ctx, userID)
}
