package prospecting

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/divulgaai/prospecting-engine/internal/config"
	"github.com/divulgaai/prospecting-engine/internal/leads"
	"github.com/divulgaai/prospecting-engine/internal/notify"
	"github.com/divulgaai/prospecting-engine/internal/observability/metrics"
	"github.com/divulgaai/prospecting-engine/pkg/logging"
)

// GatewayFactory builds a gateway client bound to one instance credential
// pair. Injected so fleet assembly stays testable without HTTP.
type GatewayFactory func(instanceID, token string) (Gateway, error)

// FleetDeps are the shared collaborators every worker uses.
type FleetDeps struct {
	Store      LeadStore
	StaleStore StaleReleaser
	CRM        DealUpdater
	Metrics    *metrics.ProspectingMetrics
	Logger     *logging.Logger
	NewGateway GatewayFactory
}

// Fleet is one scheduler per valid (prospector, instance) pair plus the
// stale-claim reaper, supervised as a single unit.
type Fleet struct {
	schedulers []*Scheduler
	reaper     *Reaper
	logger     *logging.Logger
}

// BuildFleet assembles the fleet from configuration. Prospectors with
// incomplete credential pairs are skipped with a warning; a configuration
// failure or an empty fleet aborts the launch entirely.
func BuildFleet(cfg *config.Config, deps FleetDeps) (*Fleet, error) {
	if deps.Store == nil || deps.NewGateway == nil {
		return nil, errors.New("prospecting: fleet requires a lead store and a gateway factory")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}

	creds, err := cfg.GatewayCredentials()
	if err != nil {
		return nil, err
	}
	audio, err := cfg.ProspectorAudio()
	if err != nil {
		return nil, err
	}
	hours, err := NewBusinessHours(cfg.BusinessStartHour, cfg.BusinessEndHour, cfg.RestWeekday, cfg.Timezone)
	if err != nil {
		return nil, err
	}
	waits := DefaultWaitPolicy()
	waits.ReconnectInitial = cfg.ReconnectInitialDelay
	waits.ReconnectMax = cfg.ReconnectMaxDelay
	waits.ReconnectMaxRetries = cfg.ReconnectMaxRetries

	fleet := &Fleet{logger: logger}
	for prospector, pair := range creds {
		instances := []struct {
			label string
			inst  config.GatewayInstance
		}{
			{"primary", pair.Primary},
			{"secondary", pair.Secondary},
		}
		for _, entry := range instances {
			if !entry.inst.Complete() {
				logger.Warn("gateway instance incomplete, worker not started",
					"prospector", prospector, "instance", entry.label)
				continue
			}
			gw, err := deps.NewGateway(entry.inst.InstanceID, entry.inst.Token)
			if err != nil {
				return nil, fmt.Errorf("prospecting: build gateway for %s/%s: %w", prospector, entry.label, err)
			}

			composer := NewComposer(prospector, hours.Location()).
				WithSignupBaseURL(cfg.SignupBaseURL).
				WithAudioURL(audio[prospector]).
				WithTemplates(cfg.MessageTemplates)
			notifier := notify.NewService(gw, cfg.SupportNumbers, logger)

			sched := NewScheduler(prospector, deps.Store, gw, composer, logger).
				WithNotifier(notifier).
				WithMetrics(deps.Metrics).
				WithHours(hours).
				WithWaits(waits).
				WithDailyQuota(cfg.DailyQuota).
				WithVariant(Variant(cfg.CampaignVariant)).
				WithFilter(leads.ClaimFilter{
					Prospector: prospector,
					Source:     cfg.SourceFilter,
					DevPhone:   devPhone(cfg),
				})
			if deps.CRM != nil {
				sched = sched.WithCRM(deps.CRM, cfg.AgendorDealStage, cfg.AgendorFunnel)
			}

			fleet.schedulers = append(fleet.schedulers, sched)
			logger.Info("prospecting worker configured",
				"prospector", prospector, "instance", entry.label, "worker_id", sched.WorkerID())
		}
	}

	if len(fleet.schedulers) == 0 {
		return nil, errors.New("prospecting: no worker could be started")
	}

	if deps.StaleStore != nil {
		fleet.reaper = NewReaper(deps.StaleStore, logger).
			WithInterval(cfg.ReaperInterval).
			WithStaleAfter(cfg.StaleAfter).
			WithMetrics(deps.Metrics)
	}
	return fleet, nil
}

// Workers returns how many schedulers the fleet supervises.
func (f *Fleet) Workers() int {
	return len(f.schedulers)
}

// Run starts every scheduler plus the reaper and blocks until all
// schedulers finish or ctx is canceled. The reaper is stopped once the last
// scheduler returns, so a drained fleet exits instead of idling forever.
func (f *Fleet) Run(ctx context.Context) error {
	reapCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()

	var reapWG sync.WaitGroup
	if f.reaper != nil {
		reapWG.Add(1)
		go func() {
			defer reapWG.Done()
			_ = f.reaper.Run(reapCtx)
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sched := range f.schedulers {
		g.Go(func() error {
			return sched.Run(gctx)
		})
	}
	err := g.Wait()

	stopReaper()
	reapWG.Wait()

	f.logger.Info("prospecting fleet finished", "workers", len(f.schedulers))
	return err
}

// devPhone pins claims to one number outside production only.
func devPhone(cfg *config.Config) string {
	if cfg.Env == "production" {
		return ""
	}
	return cfg.DevPhone
}
