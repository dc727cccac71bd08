package ledger

import (
	"context"
	"time"
)

// Store is the persistence the engine runs against. Reads outside InTx see
// committed state only.
//
// InTx runs fn as one unit of work: either every write fn made is committed
// or none is. It makes a single attempt and reports a lost serialization race
// as ErrConcurrentUpdate; retrying is the caller's job.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	Account(ctx context.Context, id string) (Account, error)
	AccountByReferralCode(ctx context.Context, code string) (Account, error)
	ReferrerOf(ctx context.Context, accountID string) (string, error)
	// ActiveReferralCount counts distinct accounts directly referred by
	// accountID that have at least one investment. With currentOnly, only
	// investments still in the active state count.
	ActiveReferralCount(ctx context.Context, accountID string, currentOnly bool) (int, error)
	DirectReferrals(ctx context.Context, accountID string) ([]ReferralView, error)
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error)

	Investment(ctx context.Context, id string) (Investment, error)
	ActiveInvestmentIDs(ctx context.Context) ([]string, error)
	ListInvestments(ctx context.Context, accountID string) ([]Investment, error)

	ListTransactions(ctx context.Context, accountID string, limit int) ([]Transaction, error)
	ListCommissions(ctx context.Context, referrerID string) ([]Commission, error)

	Package(ctx context.Context, id string) (Package, error)
	ListPackages(ctx context.Context) ([]Package, error)
	UpsertPackage(ctx context.Context, p Package) error

	// PendingCascadeTasks returns pending or failed tasks with fewer than
	// maxAttempts attempts that were last touched before staleBefore, oldest
	// first.
	PendingCascadeTasks(ctx context.Context, staleBefore time.Time, maxAttempts, limit int) ([]CascadeTask, error)

	Withdrawal(ctx context.Context, id string) (Withdrawal, error)
	// ListWithdrawals returns withdrawals matching f, newest first. Empty
	// fields match everything.
	ListWithdrawals(ctx context.Context, f WithdrawalFilter) ([]Withdrawal, error)
}

// Tx is the locked read/write side of a unit of work. Lock* methods hold the
// row until the unit of work ends and return ErrNotFound for missing rows.
type Tx interface {
	LockAccount(ctx context.Context, id string) (Account, error)
	InsertAccount(ctx context.Context, a Account) error
	UpdateAccount(ctx context.Context, a Account) error
	AppendTransaction(ctx context.Context, t Transaction) error

	InsertInvestment(ctx context.Context, inv Investment) error
	LockInvestment(ctx context.Context, id string) (Investment, error)
	UpdateInvestment(ctx context.Context, inv Investment) error

	// InsertCommission returns false without writing when a commission for the
	// same investment and level already exists.
	InsertCommission(ctx context.Context, c Commission) (bool, error)

	LockCascadeTask(ctx context.Context, investmentID string) (CascadeTask, error)
	PutCascadeTask(ctx context.Context, t CascadeTask) error

	InsertWithdrawal(ctx context.Context, w Withdrawal) error
	LockWithdrawal(ctx context.Context, id string) (Withdrawal, error)
	UpdateWithdrawal(ctx context.Context, w Withdrawal) error
}
