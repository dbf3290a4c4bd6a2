package roles

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultCronSpec refreshes roles every five minutes (seconds field included).
const DefaultCronSpec = "0 */5 * * * *"

// refreshTimeout bounds each refresh run.
const refreshTimeout = 25 * time.Second

// Scheduler refreshes a Registry on a cron spec and whenever the reducer catches up
// with its source.
type Scheduler struct {
	Registry *Registry
	Cron     *cron.Cron
	CronSpec string
	Logger   *zap.Logger
}

func NewScheduler(ctx context.Context, registry *Registry, cronSpec string, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cronSpec == "" {
		cronSpec = DefaultCronSpec
	}
	s := &Scheduler{
		Registry: registry,
		Cron:     cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		CronSpec: cronSpec,
		Logger:   logger,
	}
	if _, err := s.Cron.AddFunc(cronSpec, func() { s.refresh(ctx, "cron") }); err != nil {
		return nil, err
	}
	return s, nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.Logger.Info("role refresh scheduled", zap.String("cronSpec", s.CronSpec))
}

// Stop stops the cron scheduler and waits for a running refresh.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
}

// WatchSync refreshes the registry on every signal from synced, one per catch-up with
// the source. It returns when synced is closed or ctx is done.
func (s *Scheduler) WatchSync(ctx context.Context, synced <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-synced:
			if !ok {
				return
			}
			s.refresh(ctx, "synced")
		}
	}
}

func (s *Scheduler) refresh(ctx context.Context, trigger string) {
	rctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	if err := s.Registry.Refresh(rctx); err != nil {
		s.Logger.Warn("role refresh failed", zap.String("trigger", trigger), zap.Error(err))
	}
}
