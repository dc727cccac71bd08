package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Posting accumulates balance changes against one locked account and writes
// them together with their transaction line.
type Posting struct {
	acct        *Account
	walletDelta int64
	lockedDelta int64
}

func NewPosting(acct *Account) *Posting {
	return &Posting{acct: acct}
}

func (p *Posting) Credit(amountPaise int64) error {
	if amountPaise < 0 {
		return ErrInvalidAmount
	}
	p.walletDelta += amountPaise
	return nil
}

func (p *Posting) Debit(amountPaise int64) error {
	if amountPaise < 0 {
		return ErrInvalidAmount
	}
	if p.acct.WalletPaise+p.walletDelta-amountPaise < 0 {
		return ErrInsufficientFunds
	}
	p.walletDelta -= amountPaise
	return nil
}

func (p *Posting) MoveToLocked(amountPaise int64) error {
	if err := p.Debit(amountPaise); err != nil {
		return err
	}
	p.lockedDelta += amountPaise
	return nil
}

func (p *Posting) ReleaseFromLocked(amountPaise int64) error {
	if amountPaise < 0 {
		return ErrInvalidAmount
	}
	if p.acct.LockedPaise+p.lockedDelta-amountPaise < 0 {
		return ErrNegativeBalance
	}
	p.lockedDelta -= amountPaise
	p.walletDelta += amountPaise
	return nil
}

// Post applies the accumulated deltas to the account row and appends exactly
// one transaction line. Counter fields changed on the account by the caller
// are written in the same update. A posting with no amount and no deltas
// writes nothing.
func (p *Posting) Post(ctx context.Context, tx Tx, kind TxKind, amountPaise int64, relatedID, description string) (Transaction, error) {
	if amountPaise == 0 && p.walletDelta == 0 && p.lockedDelta == 0 {
		return Transaction{}, nil
	}
	nextWallet := p.acct.WalletPaise + p.walletDelta
	nextLocked := p.acct.LockedPaise + p.lockedDelta
	if nextWallet < 0 || nextLocked < 0 {
		return Transaction{}, ErrNegativeBalance
	}
	p.acct.WalletPaise = nextWallet
	p.acct.LockedPaise = nextLocked
	if err := tx.UpdateAccount(ctx, *p.acct); err != nil {
		return Transaction{}, err
	}
	line := Transaction{
		ID:               uuid.NewString(),
		AccountID:        p.acct.ID,
		Kind:             kind,
		AmountPaise:      amountPaise,
		WalletDeltaPaise: p.walletDelta,
		LockedDeltaPaise: p.lockedDelta,
		RelatedID:        relatedID,
		Description:      description,
	}
	if err := tx.AppendTransaction(ctx, line); err != nil {
		return Transaction{}, err
	}
	p.walletDelta, p.lockedDelta = 0, 0
	return line, nil
}

// Credit adds amount to an account wallet as one unit of work.
func (s *Service) Credit(ctx context.Context, accountID string, amountPaise int64, kind TxKind, relatedID, description string) (Transaction, error) {
	return s.postSingle(ctx, accountID, amountPaise, kind, relatedID, description, (*Posting).Credit)
}

// Debit removes amount from an account wallet as one unit of work. It fails
// with ErrInsufficientFunds rather than drive the wallet negative.
func (s *Service) Debit(ctx context.Context, accountID string, amountPaise int64, kind TxKind, relatedID, description string) (Transaction, error) {
	return s.postSingle(ctx, accountID, amountPaise, kind, relatedID, description, (*Posting).Debit)
}

func (s *Service) postSingle(ctx context.Context, accountID string, amountPaise int64, kind TxKind, relatedID, description string, apply func(*Posting, int64) error) (Transaction, error) {
	if amountPaise < 0 {
		return Transaction{}, ErrInvalidAmount
	}
	var out Transaction
	err := s.inTx(ctx, func(tx Tx) error {
		acct, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		p := NewPosting(&acct)
		if err := apply(p, amountPaise); err != nil {
			return err
		}
		out, err = p.Post(ctx, tx, kind, amountPaise, relatedID, description)
		return err
	})
	return out, err
}

// TopUp records funds that arrived outside the platform.
func (s *Service) TopUp(ctx context.Context, accountID string, amountPaise int64, reference string) (Transaction, error) {
	if amountPaise <= 0 {
		return Transaction{}, ErrInvalidAmount
	}
	desc := "Wallet top-up"
	if ref := strings.TrimSpace(reference); ref != "" {
		desc = fmt.Sprintf("Wallet top-up (%s)", ref)
	}
	line, err := s.Credit(ctx, accountID, amountPaise, TxDepositCredit, strings.TrimSpace(reference), desc)
	if err != nil {
		return line, err
	}
	s.log.Info("wallet topped up", "account_id", accountID, "amount_paise", amountPaise)
	return line, nil
}

// RequestWithdrawal files a pending withdrawal. Balances move only on approval.
func (s *Service) RequestWithdrawal(ctx context.Context, accountID string, amountPaise int64) (Withdrawal, error) {
	if amountPaise <= 0 {
		return Withdrawal{}, ErrInvalidAmount
	}
	if amountPaise < s.opts.WithdrawalMinPaise {
		return Withdrawal{}, fmt.Errorf("%w: minimum is %s", ErrBelowWithdrawalMinimum, FormatPaise(s.opts.WithdrawalMinPaise))
	}
	wc, svc, net := withdrawalFees(amountPaise)
	w := Withdrawal{
		ID:              uuid.NewString(),
		AccountID:       accountID,
		AmountPaise:     amountPaise,
		WCFeePaise:      wc,
		ServiceFeePaise: svc,
		NetPaise:        net,
		Status:          WithdrawalPending,
	}
	err := s.inTx(ctx, func(tx Tx) error {
		acct, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if acct.WalletPaise < amountPaise {
			return ErrInsufficientFunds
		}
		w.RequestedAt = s.now()
		return tx.InsertWithdrawal(ctx, w)
	})
	if err != nil {
		return Withdrawal{}, err
	}
	return w, nil
}

func (s *Service) ApproveWithdrawal(ctx context.Context, id string) (Withdrawal, error) {
	var out Withdrawal
	err := s.inTx(ctx, func(tx Tx) error {
		w, err := tx.LockWithdrawal(ctx, id)
		if err != nil {
			return err
		}
		if w.Status != WithdrawalPending {
			return ErrWithdrawalProcessed
		}
		acct, err := tx.LockAccount(ctx, w.AccountID)
		if err != nil {
			return err
		}
		p := NewPosting(&acct)
		if err := p.Debit(w.AmountPaise); err != nil {
			return err
		}
		desc := fmt.Sprintf("Withdrawal of %s (net %s after fees)", FormatPaise(w.AmountPaise), FormatPaise(w.NetPaise))
		if _, err := p.Post(ctx, tx, TxWithdrawalDebit, w.AmountPaise, w.ID, desc); err != nil {
			return err
		}
		now := s.now()
		w.Status = WithdrawalApproved
		w.ProcessedAt = &now
		out = w
		return tx.UpdateWithdrawal(ctx, w)
	})
	if err != nil {
		return Withdrawal{}, err
	}
	s.log.Info("withdrawal approved", "withdrawal_id", id, "account_id", out.AccountID, "amount_paise", out.AmountPaise)
	return out, nil
}

func (s *Service) RejectWithdrawal(ctx context.Context, id string) (Withdrawal, error) {
	var out Withdrawal
	err := s.inTx(ctx, func(tx Tx) error {
		w, err := tx.LockWithdrawal(ctx, id)
		if err != nil {
			return err
		}
		if w.Status != WithdrawalPending {
			return ErrWithdrawalProcessed
		}
		now := s.now()
		w.Status = WithdrawalRejected
		w.ProcessedAt = &now
		out = w
		return tx.UpdateWithdrawal(ctx, w)
	})
	if err != nil {
		return Withdrawal{}, err
	}
	return out, nil
}

func (s *Service) ListWithdrawals(ctx context.Context, status WithdrawalStatus) ([]Withdrawal, error) {
	if err := validWithdrawalStatus(status); err != nil {
		return nil, err
	}
	return s.store.ListWithdrawals(ctx, WithdrawalFilter{Status: status})
}

// ListAccountWithdrawals returns one account's withdrawal requests, newest
// first, optionally narrowed to status.
func (s *Service) ListAccountWithdrawals(ctx context.Context, accountID string, status WithdrawalStatus) ([]Withdrawal, error) {
	if err := validWithdrawalStatus(status); err != nil {
		return nil, err
	}
	if _, err := s.store.Account(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListWithdrawals(ctx, WithdrawalFilter{AccountID: accountID, Status: status})
}

func validWithdrawalStatus(status WithdrawalStatus) error {
	switch status {
	case "", WithdrawalPending, WithdrawalApproved, WithdrawalRejected:
		return nil
	}
	return fmt.Errorf("%w: unknown withdrawal status %q", ErrInvalidInput, status)
}

func (s *Service) ListTransactions(ctx context.Context, accountID string, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if _, err := s.store.Account(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, accountID, limit)
}
