// Package pipeline drives claimed render jobs through the per-scene
// generation stages: dialogue synthesis, video synthesis on a leased GPU pod,
// stitching, social clip derivation, and final upload. Workers claim jobs
// from the queue and run them concurrently; scenes within one job run
// strictly in order.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"showrunner/internal/compute"
	"showrunner/internal/config"
	"showrunner/internal/ledger"
	"showrunner/internal/logging"
	"showrunner/internal/notifications"
	"showrunner/internal/queue"
	"showrunner/internal/services"
	"showrunner/internal/services/stitch"
	"showrunner/internal/services/tts"
	"showrunner/internal/services/videogen"
	"showrunner/internal/storage"
)

// socialClipDurations lists the derived clip lengths in seconds.
var socialClipDurations = []int{15, 30}

// Pipeline owns the worker pool and the per-job render sequence.
type Pipeline struct {
	cfg      *config.Config
	store    *queue.Store
	ledger   *ledger.Store
	tts      tts.Client
	videoGen videogen.Client
	stitcher stitch.Client
	compute  *compute.Manager
	storage  storage.Store
	notifier notifications.Service
	logger   *slog.Logger

	now func() time.Time
}

func New(
	cfg *config.Config,
	store *queue.Store,
	ledgerStore *ledger.Store,
	ttsClient tts.Client,
	videoGenClient videogen.Client,
	stitchClient stitch.Client,
	computeManager *compute.Manager,
	artifactStore storage.Store,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		cfg:      cfg,
		store:    store,
		ledger:   ledgerStore,
		tts:      ttsClient,
		videoGen: videoGenClient,
		stitcher: stitchClient,
		compute:  computeManager,
		storage:  artifactStore,
		notifier: notifications.NewService(cfg),
		logger:   logger.With(logging.String(logging.FieldComponent, "pipeline")),
		now:      time.Now,
	}
}

// Run claims and executes jobs until ctx is cancelled. It blocks until all
// workers have drained.
func (p *Pipeline) Run(ctx context.Context) {
	workers := p.cfg.Workflow.WorkerCount
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(id int) {
			defer wg.Done()
			p.workerLoop(ctx, id)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.reclaimLoop(ctx)
	}()

	wg.Wait()
}

func (p *Pipeline) workerLoop(ctx context.Context, id int) {
	poll := secondsOrDefault(p.cfg.Workflow.QueuePollInterval, 2)
	logger := p.logger.With(logging.Int("worker", id))
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.store.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("claim failed", logging.Error(err))
			if !sleepCtx(ctx, secondsOrDefault(p.cfg.Workflow.ErrorRetryInterval, 5)) {
				return
			}
			continue
		}
		if job == nil {
			if !sleepCtx(ctx, poll) {
				return
			}
			continue
		}
		p.execute(ctx, job, logger)
	}
}

// reclaimLoop re-queues jobs whose workers stopped heartbeating, typically
// after a crash.
func (p *Pipeline) reclaimLoop(ctx context.Context) {
	timeout := secondsOrDefault(p.cfg.Workflow.HeartbeatTimeout, 120)
	ticker := time.NewTicker(timeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := p.now().Add(-timeout)
			reclaimed, err := p.store.ReclaimStale(ctx, cutoff, p.cfg.Workflow.MaxAttempts)
			if err != nil {
				p.logger.Warn("stale job reclaim failed", logging.Error(err))
			} else if reclaimed > 0 {
				p.logger.Info("reclaimed stale jobs", logging.Int64("count", reclaimed))
			}
		}
	}
}

func (p *Pipeline) execute(ctx context.Context, job *queue.Job, logger *slog.Logger) {
	logger = logger.With(
		logging.String(logging.FieldJobID, job.JobID),
		logging.String(logging.FieldEpisodeID, job.EpisodeID),
		logging.String(logging.FieldUserID, job.UserID))
	ctx = services.WithJobID(ctx, job.JobID)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go p.heartbeatLoop(hbCtx, job.JobID)

	defer func() {
		stopHeartbeat()
		if r := recover(); r != nil {
			logger.Error("job panicked", logging.Any("panic", r))
			if err := p.store.Fail(context.Background(), job.JobID, fmt.Sprintf("internal error: %v", r)); err != nil {
				logger.Error("failed to mark panicked job", logging.Error(err))
			}
		}
	}()

	logger.Info("job started", logging.Int("attempt", job.Attempts))
	result, err := p.renderJob(ctx, job)
	if err != nil {
		p.handleFailure(ctx, job, err, logger)
		return
	}
	if err := p.store.Complete(ctx, job.JobID, result); err != nil {
		logger.Error("failed to mark job completed", logging.Error(err))
		return
	}
	logger.Info("job completed",
		logging.String("video_url", result.VideoURL),
		logging.Float64("total_cost_usd", result.TotalCostUSD))
	if err := p.notifier.NotifyJobCompleted(ctx, job.EpisodeID, result.VideoURL, result.TotalCostUSD); err != nil {
		logger.Warn("completion notification failed", logging.Error(err))
	}
}

func (p *Pipeline) handleFailure(ctx context.Context, job *queue.Job, err error, logger *slog.Logger) {
	if services.IsRetryable(err) && job.Attempts < p.cfg.Workflow.MaxAttempts {
		delay := p.retryBackoff(job.Attempts)
		logger.Warn("job delayed for retry",
			logging.Error(err),
			logging.Int("attempt", job.Attempts),
			logging.Duration("delay", delay))
		if dErr := p.store.Delay(ctx, job.JobID, err.Error(), p.now().Add(delay)); dErr != nil {
			logger.Error("failed to delay job", logging.Error(dErr))
		}
		return
	}
	logger.Error("job failed", logging.Error(err), logging.Int("attempt", job.Attempts))
	if fErr := p.store.Fail(ctx, job.JobID, err.Error()); fErr != nil {
		logger.Error("failed to mark job failed", logging.Error(fErr))
	}
	if nErr := p.notifier.NotifyJobFailed(ctx, job.EpisodeID, job.JobID, err.Error()); nErr != nil {
		logger.Warn("failure notification failed", logging.Error(nErr))
	}
}

// retryBackoff doubles per attempt from the configured base, capped at the
// configured maximum.
func (p *Pipeline) retryBackoff(attempts int) time.Duration {
	base := secondsOrDefault(p.cfg.Workflow.RetryBackoffBaseSeconds, 30)
	max := secondsOrDefault(p.cfg.Workflow.RetryBackoffMaxSeconds, 600)
	if attempts < 1 {
		attempts = 1
	}
	delay := base * time.Duration(1<<(attempts-1))
	if delay > max || delay <= 0 {
		delay = max
	}
	return delay
}

func (p *Pipeline) heartbeatLoop(ctx context.Context, jobID string) {
	interval := secondsOrDefault(p.cfg.Workflow.HeartbeatInterval, 15)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.store.UpdateHeartbeat(ctx, jobID); err != nil && ctx.Err() == nil {
				p.logger.Warn("heartbeat update failed",
					logging.String(logging.FieldJobID, jobID),
					logging.Error(err))
			}
		}
	}
}

// renderJob runs the full per-episode sequence and returns the final result.
// Any error propagates to retry/fail handling in execute.
func (p *Pipeline) renderJob(ctx context.Context, job *queue.Job) (queue.Result, error) {
	jobCfg, err := job.Config()
	if err != nil {
		return queue.Result{}, services.Wrap(services.ErrValidation, "pipeline", "render", "decode job config", err)
	}

	workDir := filepath.Join(p.cfg.Paths.WorkDir, "jobs", job.JobID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return queue.Result{}, services.Wrap(services.ErrStorage, "pipeline", "render", "create work dir", err)
	}

	podID, err := p.compute.Acquire(ctx)
	if err != nil {
		return queue.Result{}, err
	}
	defer p.compute.Release(podID)

	total := len(jobCfg.Scenes)
	segmentPaths := make([]string, 0, total)
	audioPaths := make([]string, 0, total)

	for i, scene := range jobCfg.Scenes {
		sceneCtx := services.WithSceneID(ctx, scene.SceneID)

		audioPath, err := p.renderDialogue(sceneCtx, job, scene, workDir)
		if err != nil {
			return queue.Result{}, err
		}
		segmentPath, err := p.renderVideo(sceneCtx, job, scene, jobCfg.Quality, podID, workDir)
		if err != nil {
			return queue.Result{}, err
		}

		segmentPaths = append(segmentPaths, segmentPath)
		if audioPath != "" {
			audioPaths = append(audioPaths, audioPath)
		}
		// Progress holds below 100 through stitch, clip derivation, and
		// upload; only Complete moves it to 100.
		progress := 100 * (i + 1) / total
		if progress > 99 {
			progress = 99
		}
		if err := p.store.SetProgress(ctx, job.JobID, progress); err != nil {
			return queue.Result{}, services.Wrap(services.ErrStorage, "pipeline", "render", "set progress", err)
		}
	}

	// Stitching requires an audio track per segment or none at all.
	if len(audioPaths) != 0 && len(audioPaths) != len(segmentPaths) {
		audioPaths = nil
	}

	stitchRes, err := p.stitcher.Stitch(ctx, stitch.Request{
		SegmentPaths:  segmentPaths,
		AudioPaths:    audioPaths,
		OutputPath:    filepath.Join(workDir, "episode.mp4"),
		ClipDurations: socialClipDurations,
		ClipDir:       workDir,
	})
	if err != nil {
		return queue.Result{}, err
	}
	p.recordUsage(ctx, job, ledger.ProviderStitch, p.cfg.Stitch.CostPerRun, 1)

	videoURL, err := p.storage.Upload(ctx, stitchRes.VideoPath, artifactKey(job, "episode.mp4"))
	if err != nil {
		return queue.Result{}, err
	}
	clipURLs := make([]string, 0, len(stitchRes.ClipPaths))
	for _, clip := range stitchRes.ClipPaths {
		clipURL, err := p.storage.Upload(ctx, clip, artifactKey(job, filepath.Base(clip)))
		if err != nil {
			return queue.Result{}, err
		}
		clipURLs = append(clipURLs, clipURL)
	}

	totalCost, err := p.ledger.JobCost(ctx, job.JobID)
	if err != nil {
		return queue.Result{}, services.Wrap(services.ErrStorage, "pipeline", "render", "read job cost", err)
	}
	return queue.Result{
		VideoURL:     videoURL,
		SocialClips:  clipURLs,
		TotalCostUSD: totalCost,
	}, nil
}

// renderDialogue synthesizes one scene's audio. Scenes without dialogue skip
// synthesis and billing entirely.
func (p *Pipeline) renderDialogue(ctx context.Context, job *queue.Job, scene queue.Scene, workDir string) (string, error) {
	if scene.Dialogue == "" {
		return "", nil
	}
	res, err := p.tts.Synthesize(ctx, tts.Request{
		SceneID:    scene.SceneID,
		Dialogue:   scene.Dialogue,
		Voice:      p.cfg.TTS.Voice,
		OutputPath: filepath.Join(workDir, scene.SceneID+".wav"),
	})
	if err != nil {
		return "", err
	}
	p.recordUsage(ctx, job, ledger.ProviderTTS, ttsCost(p.cfg, res.Characters), int64(res.Characters))
	return res.AudioPath, nil
}

func (p *Pipeline) renderVideo(ctx context.Context, job *queue.Job, scene queue.Scene, quality queue.Quality, podID, workDir string) (string, error) {
	res, err := p.videoGen.Generate(ctx, videogen.Request{
		SceneID:         scene.SceneID,
		Prompt:          scene.Prompt,
		CharacterRef:    scene.CharacterRef,
		BackgroundRef:   scene.BackgroundRef,
		DurationSeconds: sceneSeconds(scene),
		Quality:         string(quality),
		PodID:           podID,
		OutputPath:      filepath.Join(workDir, scene.SceneID+".mp4"),
	})
	if err != nil {
		return "", err
	}
	p.recordUsage(ctx, job, ledger.ProviderVideoGen, videoCost(p.cfg, res.Seconds, quality), int64(res.Seconds))
	return res.VideoPath, nil
}

// recordUsage appends exactly one ledger event per completed provider call.
// Ledger write failures are logged and never abort the render.
func (p *Pipeline) recordUsage(ctx context.Context, job *queue.Job, provider string, costUSD float64, units int64) {
	err := p.ledger.Record(ctx, ledger.UsageEvent{
		UserID:    job.UserID,
		Provider:  provider,
		QuotaType: job.QuotaType,
		JobID:     job.JobID,
		EpisodeID: job.EpisodeID,
		CostUSD:   costUSD,
		Units:     units,
	})
	if err != nil {
		p.logger.Warn("usage event write failed",
			logging.String(logging.FieldJobID, job.JobID),
			logging.String(logging.FieldProvider, provider),
			logging.Error(err))
	}
}

func artifactKey(job *queue.Job, name string) string {
	return path.Join("episodes", job.EpisodeID, job.JobID, name)
}

func secondsOrDefault(seconds int, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
