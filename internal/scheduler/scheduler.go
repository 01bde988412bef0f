package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	billingcycledomain "github.com/smallbiznis/seatbill/internal/billingcycle/domain"
	"github.com/smallbiznis/seatbill/internal/clock"
	licensedomain "github.com/smallbiznis/seatbill/internal/license/domain"
	obsmetrics "github.com/smallbiznis/seatbill/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const actorName = "scheduler"

const (
	JobRenewals       = "renewals"
	JobPendingBilling = "pending_billing"
	JobOverdueCycles  = "overdue_cycles"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

// LicenseSweeper is the part of the license service the scheduler drives.
type LicenseSweeper interface {
	RenewDue(ctx context.Context, limit int) (int, error)
	EnsurePendingBilling(ctx context.Context) (int, error)
}

// CycleSweeper is the part of the billing cycle service the scheduler drives.
type CycleSweeper interface {
	MarkOverdue(ctx context.Context) (int64, error)
}

type Params struct {
	fx.In

	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	LicenseSvc      licensedomain.Service
	BillingCycleSvc billingcycledomain.Service
	Metrics         *obsmetrics.SchedulerMetrics `optional:"true"`
	Config          Config                       `optional:"true"`
}

// Scheduler periodically renews lapsed licenses, retries billing that did not
// complete at creation and flags unpaid cycles past their due date.
type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	licenses LicenseSweeper
	cycles   CycleSweeper
	metrics  *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.LicenseSvc == nil || p.BillingCycleSvc == nil {
		return nil, ErrInvalidConfig
	}
	return newScheduler(p.Log, p.Config, p.GenID, p.Clock, p.LicenseSvc, p.BillingCycleSvc, p.Metrics), nil
}

func newScheduler(
	log *zap.Logger,
	cfg Config,
	genID *snowflake.Node,
	clk clock.Clock,
	licenses LicenseSweeper,
	cycles CycleSweeper,
	metrics *obsmetrics.SchedulerMetrics,
) *Scheduler {
	return &Scheduler{
		log:      log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      cfg.withDefaults(),
		genID:    genID,
		clock:    clk,
		licenses: licenses,
		cycles:   cycles,
		metrics:  metrics,
	}
}

// runJob executes fn under the job timeout. A timeout is logged and counted
// but not returned, so the remaining jobs of the pass still run.
func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	fn func(ctx context.Context) (int, error),
) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name, batchSize)
	s.logJobStart(ctx, run)

	processed, err := fn(ctx)
	run.AddProcessed(processed)
	s.metrics.ObserveJob(name, time.Since(run.startedAt), processed, err)
	s.logJobFinish(ctx, run, err)
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every job once. Renewals go first so the cycles they create
// are visible to the later jobs of the same pass.
func (s *Scheduler) RunOnce(parent context.Context) error {
	jobs := []struct {
		name string
		run  func(context.Context) (int, error)
	}{
		{JobRenewals, func(ctx context.Context) (int, error) {
			return s.licenses.RenewDue(ctx, s.cfg.BatchSize)
		}},
		{JobPendingBilling, s.licenses.EnsurePendingBilling},
		{JobOverdueCycles, func(ctx context.Context) (int, error) {
			n, err := s.cycles.MarkOverdue(ctx)
			return int(n), err
		}},
	}

	var err error
	for _, job := range jobs {
		if parent.Err() != nil {
			break
		}
		err = errors.Join(err, s.runJob(parent, job.name, s.cfg.BatchSize, job.run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		s.metrics.ObserveRunLoopLag(s.clock.Now().Sub(nextRun))
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
