package ledger

import "context"

// transferPlan carries a proposed outbound transfer through the guard
// pipeline. Guards may only read state and annotate the plan; nothing is
// mutated until every guard has passed.
type transferPlan struct {
	From   string
	To     string
	Amount int64
	Now    int64

	// Delay is set by the timelock guard; a positive value queues the
	// transfer instead of applying it.
	Delay int64
}

// transferCheck is one guard in the pipeline. Guards run in a fixed order:
// daily limit, KYC, timelock. New controls are added by appending to the
// pipeline in NewService without touching the transfer logic.
type transferCheck func(ctx context.Context, plan *transferPlan) error

func (s *service) checkDailyLimit(ctx context.Context, plan *transferPlan) error {
	dl, err := s.store.GetDailyLimit(ctx, plan.From)
	if err != nil {
		return err
	}
	if dl == nil {
		return nil
	}
	used, _ := RollDailyWindow(dl.UsedToday, dl.LastReset, plan.Now)
	if used+plan.Amount > dl.DailyLimit {
		return ErrDailyLimitExceeded
	}
	return nil
}

func (s *service) checkKyc(ctx context.Context, plan *transferPlan) error {
	if plan.Amount <= KycThreshold {
		return nil
	}
	verified, err := s.store.IsKycVerified(ctx, plan.From)
	if err != nil {
		return err
	}
	if !verified {
		return ErrKycRequired
	}
	return nil
}

func (s *service) checkTimelock(ctx context.Context, plan *transferPlan) error {
	delay, err := s.store.TimelockDelay(ctx, plan.From)
	if err != nil {
		return err
	}
	plan.Delay = delay
	return nil
}

// RollDailyWindow returns the usage counters as of now, starting a fresh
// window when 24h have elapsed since the last reset. Callers must persist the
// rolled counters in the same transaction as the check-and-increment; the
// repository re-runs this under a row lock so concurrent transfers spanning
// the window boundary cannot race the reset. Multisig wallet limits and
// reward pool caps roll their windows through the same helper.
func RollDailyWindow(usedToday, lastReset, now int64) (used int64, reset int64) {
	if now-lastReset >= DailyWindowSeconds {
		return 0, now
	}
	return usedToday, lastReset
}
