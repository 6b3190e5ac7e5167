package pipeline

import (
	"math"

	"showrunner/internal/config"
	"showrunner/internal/queue"
)

// EstimateCost predicts the dollar cost of a render request before any
// provider is called. The guardrail gate compares this estimate against
// balances and spend caps; the ledger later records actuals.
func EstimateCost(cfg *config.Config, jobCfg queue.JobConfig) float64 {
	var total float64
	for _, scene := range jobCfg.Scenes {
		total += ttsCost(cfg, len(scene.Dialogue))
		total += videoCost(cfg, sceneSeconds(scene), jobCfg.Quality)
	}
	total += cfg.Stitch.CostPerRun
	return total
}

// EstimateMinutes predicts wall-clock render time for the API's enqueue
// response. Rough heuristic: one minute per scene plus one for stitching,
// doubled for the high fidelity tier.
func EstimateMinutes(jobCfg queue.JobConfig) int {
	minutes := len(jobCfg.Scenes) + 1
	if jobCfg.Quality == queue.QualityHigh {
		minutes *= 2
	}
	return minutes
}

func ttsCost(cfg *config.Config, characters int) float64 {
	if characters <= 0 {
		return 0
	}
	return float64(characters) / 1000.0 * cfg.TTS.CostPer1KChars
}

func videoCost(cfg *config.Config, seconds int, quality queue.Quality) float64 {
	rate := cfg.VideoGen.CostPerSecondLow
	if quality == queue.QualityHigh {
		rate = cfg.VideoGen.CostPerSecondHigh
	}
	return float64(seconds) * rate
}

// sceneSeconds returns a scene's nominal duration rounded up to whole
// billable seconds, with a one second floor.
func sceneSeconds(scene queue.Scene) int {
	seconds := int(math.Ceil(scene.DurationSeconds))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
