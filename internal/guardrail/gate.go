package guardrail

import (
	"context"
	"log/slog"
	"time"

	"showrunner/internal/config"
	"showrunner/internal/ledger"
	"showrunner/internal/logging"
	"showrunner/internal/services"
)

// Rejection reasons returned in Decision.Reason. These are machine readable
// and stable so API clients can branch on them.
const (
	ReasonRateLimited         = "rate_limited"
	ReasonQuotaExceeded       = "quota_exceeded"
	ReasonInsufficientCredits = "insufficient_credits"
	ReasonSpendCapExceeded    = "spend_cap_exceeded"
	ReasonGlobalSpendCap      = "global_spend_cap_exceeded"
)

// Decision is the outcome of an admission check. When Allowed is false,
// Reason identifies the first failed check, Remaining reports how much of the
// relevant budget is left (requests, quota slots, or dollars), and ResetAt
// tells the caller when the budget replenishes, when that is knowable.
type Decision struct {
	Allowed   bool
	Reason    string
	Remaining float64
	ResetAt   time.Time
}

// Accounts is the ledger surface the gate reads. Admission never writes.
type Accounts interface {
	SpendToday(ctx context.Context, userID string) (float64, error)
	GlobalSpendToday(ctx context.Context) (float64, error)
	QuotaUsedToday(ctx context.Context, userID, quotaType string) (int, error)
	CreditBalance(ctx context.Context, userID string) (float64, error)
}

// Gate admits or rejects render requests before any job is enqueued.
// Checks run in a fixed order and short-circuit on the first failure:
// rate limit, daily quota, credit balance, user spend cap, global spend cap.
// A rejected request has no side effects other than rate-limiter token state.
type Gate struct {
	cfg      config.Guardrails
	accounts Accounts
	limiter  *userLimiter
	logger   *slog.Logger

	now func() time.Time
}

func NewGate(cfg config.Guardrails, accounts Accounts, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Gate{
		cfg:      cfg,
		accounts: accounts,
		limiter:  newUserLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst),
		logger:   logger.With(logging.String(logging.FieldComponent, "guardrail")),
		now:      time.Now,
	}
}

// Admit runs the admission checks for a request estimated to cost
// estimatedCost dollars against the given quota type. The error return is
// reserved for infrastructure failures reading the ledger; policy rejections
// come back as a Decision with Allowed false.
func (g *Gate) Admit(ctx context.Context, userID string, estimatedCost float64, quotaType string) (Decision, error) {
	now := g.now()

	ok, remaining, resetAt := g.limiter.allow(userID, now)
	if !ok {
		g.reject(userID, ReasonRateLimited)
		return Decision{Reason: ReasonRateLimited, Remaining: float64(remaining), ResetAt: resetAt}, nil
	}

	limit := g.quotaLimit(quotaType)
	used, err := g.accounts.QuotaUsedToday(ctx, userID, quotaType)
	if err != nil {
		return Decision{}, services.Wrap(services.ErrStorage, "guardrail", "admit", "read quota usage", err)
	}
	if used >= limit {
		g.reject(userID, ReasonQuotaExceeded)
		return Decision{Reason: ReasonQuotaExceeded, Remaining: 0, ResetAt: nextUTCMidnight(now)}, nil
	}

	balance, err := g.accounts.CreditBalance(ctx, userID)
	if err != nil {
		return Decision{}, services.Wrap(services.ErrStorage, "guardrail", "admit", "read credit balance", err)
	}
	if balance < estimatedCost {
		g.reject(userID, ReasonInsufficientCredits)
		return Decision{Reason: ReasonInsufficientCredits, Remaining: balance}, nil
	}

	spent, err := g.accounts.SpendToday(ctx, userID)
	if err != nil {
		return Decision{}, services.Wrap(services.ErrStorage, "guardrail", "admit", "read user spend", err)
	}
	if spent+estimatedCost > g.cfg.UserDailySpendCapUSD {
		g.reject(userID, ReasonSpendCapExceeded)
		return Decision{
			Reason:    ReasonSpendCapExceeded,
			Remaining: maxFloat(g.cfg.UserDailySpendCapUSD-spent, 0),
			ResetAt:   nextUTCMidnight(now),
		}, nil
	}

	globalSpent, err := g.accounts.GlobalSpendToday(ctx)
	if err != nil {
		return Decision{}, services.Wrap(services.ErrStorage, "guardrail", "admit", "read global spend", err)
	}
	if globalSpent+estimatedCost > g.cfg.GlobalDailySpendCapUSD {
		g.reject(userID, ReasonGlobalSpendCap)
		return Decision{
			Reason:    ReasonGlobalSpendCap,
			Remaining: maxFloat(g.cfg.GlobalDailySpendCapUSD-globalSpent, 0),
			ResetAt:   nextUTCMidnight(now),
		}, nil
	}

	return Decision{Allowed: true, Remaining: float64(limit - used - 1)}, nil
}

// RunCleanup prunes idle rate-limiter entries until the context is cancelled.
func (g *Gate) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			g.limiter.cleanup(now)
		}
	}
}

func (g *Gate) quotaLimit(quotaType string) int {
	switch quotaType {
	case ledger.QuotaEpisodes:
		return g.cfg.DailyEpisodeLimit
	case ledger.QuotaRerolls:
		return g.cfg.DailyRerollLimit
	default:
		return g.cfg.DailyRunLimit
	}
}

func (g *Gate) reject(userID, reason string) {
	g.logger.Info("request rejected",
		logging.String(logging.FieldUserID, userID),
		logging.String("reason", reason))
}

func nextUTCMidnight(now time.Time) time.Time {
	utc := now.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// String renders a compact description for log lines.
func (d Decision) String() string {
	if d.Allowed {
		return "allowed"
	}
	return "rejected: " + d.Reason
}
