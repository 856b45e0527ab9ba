package memory

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/secondme/secondme/pkg/store"
)

// SchedulerConfig configures the extraction scheduler. The boolean and
// minute values are process-level defaults; matching rows in the settings
// table override them at runtime.
type SchedulerConfig struct {
	// PollInterval is how often silent topics are checked.
	PollInterval time.Duration

	// Enabled is the default for the extraction kill switch.
	Enabled bool

	// SilentMinutes is the default silence window before a topic becomes
	// eligible.
	SilentMinutes int
}

// Scheduler periodically sweeps for topics that have gone silent and feeds
// them to the Extractor. One sweep runs at a time; a failed topic never
// blocks the others.
type Scheduler struct {
	store     *store.Store
	extractor *Extractor
	cfg       SchedulerConfig
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(s *store.Store, extractor *Extractor, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.SilentMinutes <= 0 {
		cfg.SilentMinutes = 2
	}
	return &Scheduler{
		store:     s,
		extractor: extractor,
		cfg:       cfg,
		logger:    logger,
	}
}

// Start launches the background sweep loop. Call Stop to shut it down.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()

		s.logger.Info("memory extraction scheduler started",
			zap.Duration("poll_interval", s.cfg.PollInterval),
		)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("extraction sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop cancels the loop and waits for any in-flight sweep to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info("memory extraction scheduler stopped")
}

// Sweep runs one pass: resolve runtime settings, find eligible topics, and
// extract each. Exposed so tests and CLI tooling can trigger a pass without
// the ticker.
func (s *Scheduler) Sweep(ctx context.Context) error {
	if !s.resolveBool(ctx, store.SettingMemoryExtractionEnabled, s.cfg.Enabled) {
		return nil
	}

	silentMinutes := s.resolveInt(ctx, store.SettingMemorySilentMinutes, s.cfg.SilentMinutes)
	threshold := time.Now().Add(-time.Duration(silentMinutes) * time.Minute)

	topics, err := s.store.EligibleTopics(ctx, threshold)
	if err != nil {
		return err
	}

	for i := range topics {
		topic := &topics[i]
		if err := s.extractor.ExtractTopic(ctx, topic); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			s.logger.Error("topic extraction failed",
				zap.String("topic_id", topic.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

func (s *Scheduler) resolveInt(ctx context.Context, key string, fallback int) int {
	value, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func (s *Scheduler) resolveBool(ctx context.Context, key string, fallback bool) bool {
	value, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return fallback
	}
	return strings.EqualFold(value, "true")
}
