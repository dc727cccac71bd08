package ledger

import "context"

const DefaultLeaderboardLimit = 20

func (s *Service) ReferralStats(ctx context.Context, accountID string) (ReferralStats, error) {
	acct, err := s.store.Account(ctx, accountID)
	if err != nil {
		return ReferralStats{}, err
	}
	refs, err := s.store.DirectReferrals(ctx, accountID)
	if err != nil {
		return ReferralStats{}, err
	}
	out := ReferralStats{
		TotalReferrals:    len(refs),
		TotalEarnedPaise:  acct.TotalReferralPaise,
		FirstBonusClaimed: acct.FirstReferralBonusUsed,
		Referrals:         refs,
	}
	for _, r := range refs {
		if r.Active {
			out.ActiveReferrals++
		}
	}
	if out.Referrals == nil {
		out.Referrals = []ReferralView{}
	}
	return out, nil
}

func (s *Service) ListCommissions(ctx context.Context, referrerID string) ([]Commission, error) {
	if _, err := s.store.Account(ctx, referrerID); err != nil {
		return nil, err
	}
	return s.store.ListCommissions(ctx, referrerID)
}

func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	if limit <= 0 || limit > 100 {
		limit = DefaultLeaderboardLimit
	}
	return s.store.Leaderboard(ctx, limit)
}
