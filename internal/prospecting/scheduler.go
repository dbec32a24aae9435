// Package prospecting implements the claim-and-dispatch loop that contacts
// queued leads over WhatsApp. One Scheduler runs per (prospector, gateway
// instance) pair; all mutual exclusion between schedulers goes through the
// lead store's atomic claim.
package prospecting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/divulgaai/prospecting-engine/internal/leads"
	"github.com/divulgaai/prospecting-engine/internal/messaging/zapiclient"
	"github.com/divulgaai/prospecting-engine/internal/observability/metrics"
	"github.com/divulgaai/prospecting-engine/pkg/logging"
)

// LeadStore is the slice of the lead store the scheduler mutates.
type LeadStore interface {
	ClaimNext(ctx context.Context, filter leads.ClaimFilter, workerID string) (*leads.Lead, error)
	Release(ctx context.Context, id bson.ObjectID) error
	MarkUnreachable(ctx context.Context, id bson.ObjectID) error
	Complete(ctx context.Context, id bson.ObjectID, canonicalPhone string, at time.Time) error
	CountCompletedSince(ctx context.Context, prospector string, since time.Time) (int64, error)
}

// Gateway is the per-instance messaging gateway the scheduler dispatches
// through.
type Gateway interface {
	InstanceConnected(ctx context.Context) (bool, error)
	PhoneExists(ctx context.Context, phone string) (zapiclient.PhoneCheck, error)
	SendText(ctx context.Context, phone, message string) error
	SendAudio(ctx context.Context, phone, audioURL string) error
	SendImage(ctx context.Context, phone, imageURL, caption string) error
}

// DealUpdater advances CRM deal stages. Best-effort: failures never roll
// back a sent message.
type DealUpdater interface {
	UpdateDealStage(ctx context.Context, dealID int64, stage int, funnel string) error
}

// OperatorNotifier tells the operators the queue ran dry.
type OperatorNotifier interface {
	Broadcast(ctx context.Context, message string) error
}

// outcome classifies one processed lead so the loop driver can choose the
// matching wait phase.
type outcome int

const (
	outcomeSent outcome = iota
	outcomeUnreachable
	outcomeRetry
)

// Scheduler runs the claim → validate → dispatch → record loop for one
// prospector on one gateway instance.
type Scheduler struct {
	store    LeadStore
	gateway  Gateway
	crm      DealUpdater
	notifier OperatorNotifier
	composer *Composer
	metrics  *metrics.ProspectingMetrics
	logger   *logging.Logger

	prospector string
	workerID   string
	filter     leads.ClaimFilter
	variant    Variant
	hours      BusinessHours
	waits      WaitPolicy
	dailyQuota int
	dealStage  int
	dealFunnel string

	now func() time.Time
}

// NewScheduler creates a scheduler with a fresh worker id and production
// defaults.
func NewScheduler(prospector string, store LeadStore, gateway Gateway, composer *Composer, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	hours, _ := NewBusinessHours(8, 20, time.Sunday, "")
	return &Scheduler{
		store:      store,
		gateway:    gateway,
		composer:   composer,
		logger:     logger,
		prospector: prospector,
		workerID:   uuid.NewString(),
		filter:     leads.ClaimFilter{Prospector: prospector},
		variant:    VariantText,
		hours:      hours,
		waits:      DefaultWaitPolicy(),
		dailyQuota: 300,
		now:        time.Now,
	}
}

func (s *Scheduler) WithCRM(crm DealUpdater, stage int, funnel string) *Scheduler {
	s.crm = crm
	s.dealStage = stage
	s.dealFunnel = funnel
	return s
}

func (s *Scheduler) WithNotifier(n OperatorNotifier) *Scheduler {
	s.notifier = n
	return s
}

func (s *Scheduler) WithMetrics(m *metrics.ProspectingMetrics) *Scheduler {
	s.metrics = m
	return s
}

func (s *Scheduler) WithHours(h BusinessHours) *Scheduler {
	s.hours = h
	return s
}

func (s *Scheduler) WithWaits(w WaitPolicy) *Scheduler {
	s.waits = w
	return s
}

func (s *Scheduler) WithFilter(f leads.ClaimFilter) *Scheduler {
	if f.Prospector == "" {
		f.Prospector = s.prospector
	}
	s.filter = f
	return s
}

func (s *Scheduler) WithVariant(v Variant) *Scheduler {
	if v != "" {
		s.variant = v
	}
	return s
}

// WithDailyQuota caps completed contacts per local day; zero disables the
// gate.
func (s *Scheduler) WithDailyQuota(n int) *Scheduler {
	s.dailyQuota = n
	return s
}

func (s *Scheduler) WithWorkerID(id string) *Scheduler {
	if id != "" {
		s.workerID = id
	}
	return s
}

// WithClock injects a time source for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	if now != nil {
		s.now = now
	}
	return s
}

// WorkerID returns the opaque claim identity of this scheduler run.
func (s *Scheduler) WorkerID() string {
	return s.workerID
}

// Run drives the loop until the queue is empty for this worker's filter, the
// gateway never connects, or ctx is canceled. Per-lead failures release the
// claim and continue; they never end the worker.
func (s *Scheduler) Run(ctx context.Context) error {
	log := s.logger.With("prospector", s.prospector, "worker_id", s.workerID)

	connected, err := s.awaitConnection(ctx, log)
	if err != nil {
		return nil
	}
	if !connected {
		log.Error("gateway instance never connected, stopping worker")
		return nil
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		now := s.now()
		if !s.hours.Open(now) {
			log.Info("outside prospecting hours, waiting")
			if sleep(ctx, s.waits.OffHours) != nil {
				return nil
			}
			continue
		}

		if s.dailyQuota > 0 {
			count, err := s.store.CountCompletedSince(ctx, s.prospector, s.hours.StartOfDay(now))
			if err != nil {
				log.Error("daily quota count failed", "error", err)
				if sleep(ctx, s.waits.ClaimError) != nil {
					return nil
				}
				continue
			}
			if count >= int64(s.dailyQuota) {
				wait := s.hours.UntilNextDay(now)
				log.Info("daily quota reached, sleeping until next day", "wait", wait.String())
				if sleepFor(ctx, wait) != nil {
					return nil
				}
				continue
			}
		}

		lead, err := s.store.ClaimNext(ctx, s.filter, s.workerID)
		if err != nil {
			if errors.Is(err, leads.ErrNoEligibleLeads) {
				s.metrics.ObserveClaim(s.prospector, "empty")
				log.Info("lead queue empty, stopping worker")
				s.notifyQueueEmpty(ctx, log)
				return nil
			}
			s.metrics.ObserveClaim(s.prospector, "error")
			log.Error("lead claim failed", "error", err)
			if sleep(ctx, s.waits.ClaimError) != nil {
				return nil
			}
			continue
		}
		s.metrics.ObserveClaim(s.prospector, "claimed")

		out, perr := s.processLead(ctx, log, lead)
		switch out {
		case outcomeSent:
			log.Info("cooling down after successful contact")
			if sleep(ctx, s.waits.SuccessCooldown) != nil {
				return nil
			}
		case outcomeUnreachable:
			if sleep(ctx, s.waits.Unreachable) != nil {
				return nil
			}
		default:
			log.Error("lead processing failed, claim released",
				"error", perr, "lead_id", lead.ID.Hex(), "phone", lead.Phone)
			if sleep(ctx, s.waits.DispatchFailure) != nil {
				return nil
			}
		}
	}
}

// processLead validates, dispatches and records one claimed lead. Every exit
// path leaves the claim fields cleared: completion and unreachable-marking
// clear them in the same update, all other paths release explicitly.
func (s *Scheduler) processLead(ctx context.Context, log *logging.Logger, lead *leads.Lead) (outcome, error) {
	phone := NormalizePhone(lead.Phone)
	if phone == "" {
		// A lead without digits can never be contacted; park it like an
		// unreachable one instead of retrying forever.
		s.markUnreachable(ctx, log, lead)
		return outcomeUnreachable, nil
	}

	check, err := s.gateway.PhoneExists(ctx, phone)
	if err != nil {
		s.release(ctx, lead, "validate_error")
		return outcomeRetry, fmt.Errorf("validate %s: %w", phone, err)
	}
	if !check.Exists {
		log.Info("phone has no whatsapp account", "phone", phone, "lead_id", lead.ID.Hex())
		s.markUnreachable(ctx, log, lead)
		return outcomeUnreachable, nil
	}
	target := check.Phone
	if target == "" {
		target = phone
	}

	if sleep(ctx, s.waits.PreSend) != nil {
		s.release(ctx, lead, "canceled")
		return outcomeRetry, ctx.Err()
	}

	if err := s.dispatch(ctx, lead, target); err != nil {
		s.metrics.ObserveDispatch(s.prospector, "failed")
		s.release(ctx, lead, "dispatch_failed")
		return outcomeRetry, err
	}
	s.metrics.ObserveDispatch(s.prospector, "sent")

	if err := s.complete(ctx, lead, target); err != nil {
		// The message went out but the record didn't stick; release so the
		// reaper isn't the only recovery path.
		s.release(ctx, lead, "record_failed")
		return outcomeRetry, fmt.Errorf("record completion: %w", err)
	}

	s.updateDeal(ctx, log, lead)
	log.Info("lead prospected", "phone", target, "lead_id", lead.ID.Hex())
	return outcomeSent, nil
}

// dispatch sends the campaign content. In the media variant a partial send
// is a total failure for this lead.
func (s *Scheduler) dispatch(ctx context.Context, lead *leads.Lead, phone string) error {
	switch s.variant {
	case VariantMedia:
		imageURL := lead.ImageURL()
		if imageURL == "" {
			return fmt.Errorf("lead %s has no campaign image", lead.ID.Hex())
		}
		if audioURL := s.composer.AudioURL(); audioURL != "" {
			if err := s.gateway.SendAudio(ctx, phone, audioURL); err != nil {
				return fmt.Errorf("send audio: %w", err)
			}
			if sleep(ctx, s.waits.PreImage) != nil {
				return ctx.Err()
			}
		}
		caption := s.composer.MediaCaption(lead.Name, lead.ClientID)
		if err := s.gateway.SendImage(ctx, phone, imageURL, caption); err != nil {
			return fmt.Errorf("send image: %w", err)
		}
		return nil
	default:
		if err := s.gateway.SendText(ctx, phone, s.composer.Message(s.now())); err != nil {
			return fmt.Errorf("send text: %w", err)
		}
		return nil
	}
}

// complete records the contact on a detached context so a shutdown racing
// the send still writes the completion marker.
func (s *Scheduler) complete(ctx context.Context, lead *leads.Lead, canonicalPhone string) error {
	dctx, cancel := detach(ctx)
	defer cancel()
	return s.store.Complete(dctx, lead.ID, canonicalPhone, s.now())
}

// updateDeal advances the CRM deal stage after a successful contact.
// Best-effort: a failure is logged and never affects the lead record.
func (s *Scheduler) updateDeal(ctx context.Context, log *logging.Logger, lead *leads.Lead) {
	if s.crm == nil || lead.AgendorDealID == 0 || s.dealStage <= 0 {
		return
	}
	dctx, cancel := detach(ctx)
	defer cancel()
	if err := s.crm.UpdateDealStage(dctx, lead.AgendorDealID, s.dealStage, s.dealFunnel); err != nil {
		log.Error("crm deal stage update failed",
			"error", err, "deal_id", lead.AgendorDealID, "lead_id", lead.ID.Hex())
	}
}

func (s *Scheduler) markUnreachable(ctx context.Context, log *logging.Logger, lead *leads.Lead) {
	dctx, cancel := detach(ctx)
	defer cancel()
	if err := s.store.MarkUnreachable(dctx, lead.ID); err != nil {
		log.Error("mark unreachable failed", "error", err, "lead_id", lead.ID.Hex())
		return
	}
	s.metrics.ObserveUnreachable(s.prospector)
}

// release clears the claim fields on a lead that was not completed. Uses a
// detached context so cancellation still releases the in-flight claim.
func (s *Scheduler) release(ctx context.Context, lead *leads.Lead, reason string) {
	dctx, cancel := detach(ctx)
	defer cancel()
	if err := s.store.Release(dctx, lead.ID); err != nil {
		s.logger.Error("claim release failed",
			"error", err, "lead_id", lead.ID.Hex(), "prospector", s.prospector)
		return
	}
	s.metrics.ObserveRelease(s.prospector, reason)
}

// awaitConnection polls the gateway instance with jittered exponential
// backoff until it connects or the retry bound is exhausted.
func (s *Scheduler) awaitConnection(ctx context.Context, log *logging.Logger) (bool, error) {
	delay := s.waits.ReconnectInitial
	retries := 0
	for {
		connected, err := s.gateway.InstanceConnected(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			log.Error("gateway status check failed", "error", err)
		}
		if connected {
			log.Info("gateway instance connected")
			return true, nil
		}
		if s.waits.ReconnectMaxRetries > 0 && retries >= s.waits.ReconnectMaxRetries {
			return false, nil
		}
		log.Warn("gateway instance not connected, retrying", "delay", delay.String())
		if err := sleepFor(ctx, jitterAround(delay)); err != nil {
			return false, err
		}
		delay *= 2
		if s.waits.ReconnectMax > 0 && delay > s.waits.ReconnectMax {
			delay = s.waits.ReconnectMax
		}
		retries++
	}
}

func (s *Scheduler) notifyQueueEmpty(ctx context.Context, log *logging.Logger) {
	if s.notifier == nil {
		return
	}
	dctx, cancel := detach(ctx)
	defer cancel()
	msg := fmt.Sprintf("A fila de prospecção de %s está vazia!", s.prospector)
	if err := s.notifier.Broadcast(dctx, msg); err != nil {
		log.Error("empty-queue notification failed", "error", err)
	}
}

// detach keeps ctx's values but survives its cancellation, bounded so a
// shutdown can't hang on a slow store.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}
