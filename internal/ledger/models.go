package ledger

import "time"

// Provider names recorded on usage events.
const (
	ProviderTTS      = "tts"
	ProviderVideoGen = "videogen"
	ProviderStitch   = "stitch"
	ProviderCompute  = "compute"
)

// Quota categories enforced by the guardrail gate.
const (
	QuotaEpisodes = "episodes"
	QuotaRerolls  = "rerolls"
	QuotaRuns     = "generation-runs"
)

// KnownQuotaType reports whether a quota category is recognized.
func KnownQuotaType(value string) bool {
	switch value {
	case QuotaEpisodes, QuotaRerolls, QuotaRuns:
		return true
	default:
		return false
	}
}

// UsageEvent is one append-only record of billable provider usage. Exactly one
// event is written per billable provider call, after the call completes.
type UsageEvent struct {
	ID        int64
	UserID    string
	Provider  string
	QuotaType string
	JobID     string
	EpisodeID string
	CostUSD   float64
	// Units counts provider-native usage: characters for TTS, seconds for
	// video synthesis, runs for stitching.
	Units     int64
	CreatedAt time.Time
}

// CreditGrant is a credit applied to a user's balance, typically by the
// payment-provider webhook.
type CreditGrant struct {
	ID        int64
	UserID    string
	AmountUSD float64
	Reference string
	CreatedAt time.Time
}
