package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Options struct {
	// Location decides which calendar day "today" is.
	Location *time.Location
	Clock    func() time.Time

	CatchUpMissedDays         bool
	ActiveReferralCurrentOnly bool
	AccrualWorkers            int

	CascadeTimeout     time.Duration
	CascadeMaxAttempts int

	WithdrawalMinPaise int64
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.AccrualWorkers <= 0 {
		o.AccrualWorkers = 1
	}
	if o.CascadeTimeout <= 0 {
		o.CascadeTimeout = 30 * time.Second
	}
	if o.CascadeMaxAttempts <= 0 {
		o.CascadeMaxAttempts = 5
	}
	if o.WithdrawalMinPaise <= 0 {
		o.WithdrawalMinPaise = DefaultWithdrawalMinPaise
	}
	return o
}

// CascadeQueue accepts cascade tasks for background processing. Submit must not
// block; false means the task stays pending for the sweep.
type CascadeQueue interface {
	Submit(task CascadeTask) bool
}

// Recorder receives operational counters. Implementations must be safe for
// concurrent use.
type Recorder interface {
	AccrualRun(summary AccrualSummary)
	CommissionLevel(result LevelResult)
	CascadeTask(status CascadeStatus)
	InvestmentOpened(inv Investment)
}

type NoopRecorder struct{}

func (NoopRecorder) AccrualRun(AccrualSummary)   {}
func (NoopRecorder) CommissionLevel(LevelResult) {}
func (NoopRecorder) CascadeTask(CascadeStatus)   {}
func (NoopRecorder) InvestmentOpened(Investment) {}

type Service struct {
	store   Store
	log     *slog.Logger
	opts    Options
	queue   CascadeQueue
	metrics Recorder
}

func NewService(store Store, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		log:     logger,
		opts:    opts.withDefaults(),
		metrics: NoopRecorder{},
	}
}

// AttachQueue routes cascade tasks of newly opened investments to q. Without a
// queue they wait for SweepCascadeTasks.
func (s *Service) AttachQueue(q CascadeQueue) {
	s.queue = q
}

func (s *Service) SetRecorder(r Recorder) {
	if r == nil {
		r = NoopRecorder{}
	}
	s.metrics = r
}

func (s *Service) Store() Store {
	return s.store
}

func (s *Service) now() time.Time {
	return s.opts.Clock().UTC()
}

func (s *Service) today() time.Time {
	return CivilDate(s.opts.Clock(), s.opts.Location)
}

// Today is the current calendar day in the configured location.
func (s *Service) Today() time.Time {
	return s.today()
}

// inTx runs fn as a unit of work, retrying lost serialization races with
// backoff before giving up with ErrConcurrentUpdate.
func (s *Service) inTx(ctx context.Context, fn func(tx Tx) error) error {
	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.store.InTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConcurrentUpdate) {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return ErrConcurrentUpdate
}

func (s *Service) Account(ctx context.Context, id string) (Account, error) {
	return s.store.Account(ctx, strings.TrimSpace(id))
}

// RegisterAccount creates an account. The referrer is resolved from its
// referral code here and never changes afterwards, so the referral graph only
// grows by new leaves.
func (s *Service) RegisterAccount(ctx context.Context, in RegisterInput) (Account, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Account{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(name) > 64 {
		return Account{}, fmt.Errorf("%w: name too long (max 64 chars)", ErrInvalidInput)
	}
	var referrerID string
	if code := strings.ToUpper(strings.TrimSpace(in.ReferralCode)); code != "" {
		ref, err := s.store.AccountByReferralCode(ctx, code)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Account{}, fmt.Errorf("%w: %s", ErrUnknownReferralCode, code)
			}
			return Account{}, err
		}
		referrerID = ref.ID
	}

	const maxCodeAttempts = 5
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := generateReferralCode()
		if err != nil {
			return Account{}, err
		}
		if _, err := s.store.AccountByReferralCode(ctx, code); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return Account{}, err
		}
		now := s.now()
		acct := Account{
			ID:           uuid.NewString(),
			Name:         name,
			ReferralCode: code,
			ReferrerID:   referrerID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.inTx(ctx, func(tx Tx) error {
			return tx.InsertAccount(ctx, acct)
		}); err != nil {
			return Account{}, err
		}
		s.log.Info("account registered", "account_id", acct.ID, "referrer_id", referrerID)
		return acct, nil
	}
	return Account{}, fmt.Errorf("could not allocate a unique referral code")
}

// OpenInvestment moves amount from the wallet into locked capital, records the
// investment and its cascade task, then hands the task to the background
// queue. The cascade outcome never affects the result.
func (s *Service) OpenInvestment(ctx context.Context, in OpenInvestmentInput) (Investment, error) {
	pkg := in.Package
	if in.AmountPaise <= 0 {
		return Investment{}, ErrInvalidAmount
	}
	if !pkg.Active {
		return Investment{}, ErrPackageInactive
	}
	if in.AmountPaise < pkg.MinInvestmentPaise {
		return Investment{}, fmt.Errorf("%w: minimum is %s", ErrBelowMinimum, FormatPaise(pkg.MinInvestmentPaise))
	}
	if pkg.DurationDays <= 0 || pkg.DailyReturnBps < 0 {
		return Investment{}, fmt.Errorf("package %s has invalid terms", pkg.ID)
	}
	sector, err := ValidateSector(in.Sector, pkg.Sectors)
	if err != nil {
		return Investment{}, err
	}

	start := s.today()
	inv := Investment{
		ID:               uuid.NewString(),
		AccountID:        in.AccountID,
		PackageID:        pkg.ID,
		PackageName:      pkg.Name,
		Sector:           sector,
		PrincipalPaise:   in.AmountPaise,
		DailyReturnBps:   pkg.DailyReturnBps,
		DailyReturnPaise: PercentOf(in.AmountPaise, pkg.DailyReturnBps),
		DurationDays:     pkg.DurationDays,
		Status:           InvestmentActive,
		StartDate:        start,
		EndDate:          start.AddDate(0, 0, pkg.DurationDays),
		LastAccrualDate:  start,
	}
	var task CascadeTask
	err = s.inTx(ctx, func(tx Tx) error {
		acct, err := tx.LockAccount(ctx, in.AccountID)
		if err != nil {
			return err
		}
		p := NewPosting(&acct)
		if err := p.MoveToLocked(in.AmountPaise); err != nil {
			return err
		}
		acct.TotalInvestedPaise += in.AmountPaise
		desc := fmt.Sprintf("Invested in %s", pkg.Name)
		if sector != "" {
			desc = fmt.Sprintf("Invested in %s (%s)", pkg.Name, sector)
		}
		if _, err := p.Post(ctx, tx, TxInvestmentDebit, in.AmountPaise, inv.ID, desc); err != nil {
			return err
		}
		now := s.now()
		inv.CreatedAt = now
		if err := tx.InsertInvestment(ctx, inv); err != nil {
			return err
		}
		task = CascadeTask{
			InvestmentID: inv.ID,
			InvestorID:   in.AccountID,
			AmountPaise:  in.AmountPaise,
			Status:       CascadePending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return tx.PutCascadeTask(ctx, task)
	})
	if err != nil {
		return Investment{}, err
	}

	s.metrics.InvestmentOpened(inv)
	s.log.Info("investment opened",
		"investment_id", inv.ID,
		"account_id", inv.AccountID,
		"package_id", inv.PackageID,
		"principal_paise", inv.PrincipalPaise,
	)
	if s.queue != nil && !s.queue.Submit(task) {
		s.log.Warn("cascade queue full, task left for sweep", "investment_id", inv.ID)
	}
	return inv, nil
}

// OpenInvestmentByPackage looks the package up and opens the investment with
// the terms it has right now.
func (s *Service) OpenInvestmentByPackage(ctx context.Context, accountID, packageID, sector string, amountPaise int64) (Investment, error) {
	pkg, err := s.store.Package(ctx, strings.TrimSpace(packageID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Investment{}, fmt.Errorf("package %q: %w", packageID, ErrNotFound)
		}
		return Investment{}, err
	}
	return s.OpenInvestment(ctx, OpenInvestmentInput{
		AccountID:   accountID,
		Package:     pkg,
		Sector:      sector,
		AmountPaise: amountPaise,
	})
}

func (s *Service) Investment(ctx context.Context, id string) (Investment, error) {
	return s.store.Investment(ctx, id)
}

func (s *Service) ListInvestments(ctx context.Context, accountID string) ([]Investment, error) {
	if _, err := s.store.Account(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListInvestments(ctx, accountID)
}

func (s *Service) ListPackages(ctx context.Context) ([]Package, error) {
	return s.store.ListPackages(ctx)
}

// SeedPackages upserts the catalog. Investments keep the terms they were
// opened with.
func (s *Service) SeedPackages(ctx context.Context, pkgs []Package) error {
	for _, p := range pkgs {
		if err := s.store.UpsertPackage(ctx, p); err != nil {
			return fmt.Errorf("seed package %s: %w", p.ID, err)
		}
	}
	return nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func generateReferralCode() (string, error) {
	const letters = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = letters[int(buf[i])%len(letters)]
	}
	return string(buf), nil
}
