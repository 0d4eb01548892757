package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ignite/investor-outreach/internal/activity"
	"github.com/ignite/investor-outreach/internal/delivery"
	"github.com/ignite/investor-outreach/internal/domain"
	"github.com/ignite/investor-outreach/internal/mailing"
	"github.com/ignite/investor-outreach/internal/pkg/logger"
	"github.com/ignite/investor-outreach/internal/service/directory"
	"github.com/ignite/investor-outreach/internal/service/enrollment"
	"github.com/ignite/investor-outreach/internal/service/outreach"
	"github.com/ignite/investor-outreach/internal/service/sequence"
)

// =============================================================================
// SEQUENCE PROCESSOR: Fires Due Steps For Claimed Enrollments
// =============================================================================
// Each Run leases a bounded batch of due enrollments and handles every
// enrollment independently on a fixed-size worker pool. A failure on one
// enrollment releases only that enrollment's claim and leaves its pointer
// where it was, so the step is retried on the next run.

const (
	// DefaultBatchSize caps how many enrollments one run claims.
	DefaultBatchSize = 100

	// DefaultConcurrency caps in-flight sends per run.
	DefaultConcurrency = 8

	// DefaultClaimTTL is how long a claim is held before another run may
	// take the enrollment over.
	DefaultClaimTTL = 5 * time.Minute
)

// ProcessorConfig tunes a Processor.
type ProcessorConfig struct {
	BatchSize   int
	Concurrency int
	ClaimTTL    time.Duration
	Tracking    mailing.Options

	// Sender identity used when the enrollment has no campaign or the
	// campaign does not set one.
	FromName  string
	FromEmail string
	ReplyTo   string
}

func (c ProcessorConfig) withDefaults() ProcessorConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = DefaultClaimTTL
	}
	return c
}

// RunArchive stores finished run summaries.
type RunArchive interface {
	Save(ctx context.Context, s *RunSummary) error
}

// ProcessorDeps are the collaborators of a Processor. Publisher and Archive
// are optional.
type ProcessorDeps struct {
	Enrollments enrollment.Repository
	Sequences   sequence.Repository
	Outreach    outreach.Repository
	Directory   directory.Directory
	Gateway     delivery.Gateway
	Renderer    *mailing.Renderer
	Preparer    *mailing.Preparer
	Publisher   activity.Publisher
	Archive     RunArchive
	Clock       clockwork.Clock
}

// Failure describes one enrollment that could not be handled in a run.
type Failure struct {
	EnrollmentID string `json:"enrollment_id"`
	InvestorID   string `json:"investor_id"`
	StepOrder    int    `json:"step_order"`
	Error        string `json:"error"`
}

// RunSummary is the report of one Run.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Claimed    int       `json:"claimed"`
	Processed  int       `json:"processed"`
	Sent       int       `json:"sent"`
	Errors     int       `json:"errors"`
	Failures   []Failure `json:"failures"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// Processor advances due enrollments through their sequences.
type Processor struct {
	deps ProcessorDeps
	cfg  ProcessorConfig

	runs atomic.Int64
}

// NewProcessor creates a processor.
func NewProcessor(deps ProcessorDeps, cfg ProcessorConfig) *Processor {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Publisher == nil {
		deps.Publisher = activity.Nop{}
	}
	if deps.Renderer == nil {
		deps.Renderer = mailing.NewRenderer()
	}
	return &Processor{deps: deps, cfg: cfg.withDefaults()}
}

// Runs reports how many runs have completed since start.
func (p *Processor) Runs() int64 { return p.runs.Load() }

// runState accumulates counters from the pool workers.
type runState struct {
	processed atomic.Int64
	sent      atomic.Int64
	errors    atomic.Int64

	mu       sync.Mutex
	failures []Failure
}

func (s *runState) fail(e *domain.Enrollment, stepOrder int, err error) {
	s.errors.Add(1)
	s.mu.Lock()
	s.failures = append(s.failures, Failure{
		EnrollmentID: e.ID,
		InvestorID:   e.InvestorID,
		StepOrder:    stepOrder,
		Error:        err.Error(),
	})
	s.mu.Unlock()
}

// Run claims one batch of due enrollments and processes it. The returned
// error is non-nil only when the batch could not be claimed at all.
func (p *Processor) Run(ctx context.Context) (*RunSummary, error) {
	start := p.deps.Clock.Now()
	summary := &RunSummary{RunID: uuid.NewString(), StartedAt: start.UTC(), Failures: []Failure{}}

	claimed, err := p.deps.Enrollments.ClaimDue(ctx, start, p.cfg.BatchSize, p.cfg.ClaimTTL)
	if err != nil {
		return nil, fmt.Errorf("claim due enrollments: %w", err)
	}
	summary.Claimed = len(claimed)

	state := &runState{}
	jobs := make(chan *domain.Enrollment)
	var wg sync.WaitGroup
	workers := p.cfg.Concurrency
	if workers > len(claimed) {
		workers = len(claimed)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range jobs {
				if ctx.Err() != nil {
					p.release(context.WithoutCancel(ctx), e)
					continue
				}
				p.process(ctx, e, state)
			}
		}()
	}
	for i := range claimed {
		jobs <- &claimed[i]
	}
	close(jobs)
	wg.Wait()

	summary.Processed = int(state.processed.Load())
	summary.Sent = int(state.sent.Load())
	summary.Errors = int(state.errors.Load())
	summary.Failures = append(summary.Failures, state.failures...)
	summary.DurationMS = p.deps.Clock.Since(start).Milliseconds()
	p.runs.Add(1)

	logger.Info("sequence run finished",
		"run_id", summary.RunID,
		"claimed", summary.Claimed,
		"processed", summary.Processed,
		"sent", summary.Sent,
		"errors", summary.Errors,
		"duration_ms", summary.DurationMS)

	if p.deps.Archive != nil && summary.Claimed > 0 {
		if err := p.deps.Archive.Save(context.WithoutCancel(ctx), summary); err != nil {
			logger.Warn("archive run summary failed", "run_id", summary.RunID, "error", err.Error())
		}
	}
	return summary, nil
}

// process fires the step after e's current pointer.
func (p *Processor) process(ctx context.Context, e *domain.Enrollment, state *runState) {
	now := p.deps.Clock.Now().UTC()
	order := e.CurrentStepOrder + 1
	defer func() {
		if r := recover(); r != nil {
			logger.Error("step panicked", "enrollment_id", e.ID, "step_order", order, "panic", fmt.Sprint(r))
			p.abort(ctx, e, order, fmt.Errorf("panic: %v", r), state)
		}
	}()

	step, err := p.deps.Sequences.StepAt(ctx, e.SequenceID, order)
	if errors.Is(err, sequence.ErrStepNotFound) {
		// Nothing left to fire: the sequence was shortened or never had steps.
		if p.advance(ctx, e, e.CurrentStepOrder, nil, domain.EnrollmentCompleted, now, state) {
			state.processed.Add(1)
			p.emitCompleted(ctx, e, now)
		}
		return
	}
	if err != nil {
		p.abort(ctx, e, order, fmt.Errorf("load step %d: %w", order, err), state)
		return
	}

	next, status, err := p.following(ctx, e.SequenceID, order, now)
	if err != nil {
		p.abort(ctx, e, order, err, state)
		return
	}

	if step.Type.Sendable() {
		o, err := p.send(ctx, e, step, now)
		if err != nil {
			p.abort(ctx, e, order, err, state)
			return
		}
		state.sent.Add(1)
		if err := p.deps.Outreach.Create(ctx, o); err != nil {
			// The message is out; advancing avoids sending it twice.
			logger.Error("record outreach failed", "enrollment_id", e.ID, "tracking_id", o.TrackingID, "error", err.Error())
			state.fail(e, order, fmt.Errorf("record outreach: %w", err))
		} else {
			activity.Emit(ctx, p.deps.Publisher, activity.Event{
				Type:           activity.OutreachSent,
				OrganizationID: e.OrganizationID,
				SequenceID:     e.SequenceID,
				EnrollmentID:   e.ID,
				InvestorID:     e.InvestorID,
				OutreachID:     o.ID,
				TrackingID:     o.TrackingID,
				OccurredAt:     now,
				Data:           map[string]string{"type": string(step.Type), "step_order": fmt.Sprint(order)},
			})
		}
	}

	if !p.advance(ctx, e, order, next, status, now, state) {
		return
	}
	state.processed.Add(1)
	if status == domain.EnrollmentCompleted {
		p.emitCompleted(ctx, e, now)
	}
}

// following computes the pointer state after step order fires: due after
// the next step's delay, or completed when order is the last step.
func (p *Processor) following(ctx context.Context, sequenceID string, order int, now time.Time) (*time.Time, domain.EnrollmentStatus, error) {
	nextStep, err := p.deps.Sequences.StepAt(ctx, sequenceID, order+1)
	if errors.Is(err, sequence.ErrStepNotFound) {
		return nil, domain.EnrollmentCompleted, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("load step %d: %w", order+1, err)
	}
	next := domain.AddDays(now, nextStep.DelayDays)
	return &next, domain.EnrollmentActive, nil
}

// send renders, prepares and delivers one step and returns the outreach
// record to store.
func (p *Processor) send(ctx context.Context, e *domain.Enrollment, step *domain.Step, now time.Time) (*domain.Outreach, error) {
	inv, err := p.deps.Directory.Investor(ctx, e.InvestorID)
	if err != nil {
		return nil, fmt.Errorf("load investor %s: %w", e.InvestorID, err)
	}

	var camp *domain.Campaign
	if e.CampaignID != nil {
		camp, err = p.deps.Directory.Campaign(ctx, *e.CampaignID)
		if err != nil && !errors.Is(err, directory.ErrNotFound) {
			return nil, fmt.Errorf("load campaign %s: %w", *e.CampaignID, err)
		}
	}

	subject, content, err := p.content(ctx, step)
	if err != nil {
		return nil, err
	}
	vars := Variables(inv, camp)
	subject = p.deps.Renderer.Interpolate(subject, vars)
	content = p.deps.Renderer.Interpolate(content, vars)

	trackingID := uuid.NewString()
	opts := p.cfg.Tracking
	if step.Type != domain.StepEmail {
		opts.TrackOpens = false
	}
	body := content
	if p.deps.Preparer != nil {
		body = p.deps.Preparer.Prepare(content, trackingID, opts)
	}

	msg := &domain.Message{
		ID:           uuid.NewString(),
		Channel:      step.Type,
		TrackingID:   trackingID,
		EnrollmentID: e.ID,
		InvestorID:   inv.ID,
		To:           inv.Email,
		ToName:       inv.FullName(),
		ProfileURL:   inv.LinkedInURL,
		FromName:     p.cfg.FromName,
		FromEmail:    p.cfg.FromEmail,
		ReplyTo:      p.cfg.ReplyTo,
		Subject:      subject,
		HTML:         body,
	}
	if camp != nil {
		if camp.SenderName != "" {
			msg.FromName = camp.SenderName
		}
		if camp.SenderEmail != "" {
			msg.FromEmail = camp.SenderEmail
		}
	}

	res, err := p.deps.Gateway.Send(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("send %s step: %w", step.Type, err)
	}

	sentAt := now
	o := &domain.Outreach{
		ID:             uuid.NewString(),
		OrganizationID: e.OrganizationID,
		CampaignID:     e.CampaignID,
		InvestorID:     e.InvestorID,
		SequenceID:     e.SequenceID,
		StepID:         step.ID,
		EnrollmentID:   e.ID,
		Type:           step.Type,
		Status:         domain.OutreachSent,
		TrackingID:     trackingID,
		Subject:        subject,
		Content:        content,
		ScheduledAt:    e.NextSendAt,
		SentAt:         &sentAt,
	}
	if res != nil {
		o.ProviderMessageID = res.ProviderMessageID
	}
	return o, nil
}

// content resolves the subject and body of a step. Literal fields override
// the linked template.
func (p *Processor) content(ctx context.Context, step *domain.Step) (string, string, error) {
	var subject, body string
	if step.TemplateID != nil && (step.Subject == nil || step.Content == nil) {
		tpl, err := p.deps.Directory.Template(ctx, *step.TemplateID)
		if err != nil {
			return "", "", fmt.Errorf("load template %s: %w", *step.TemplateID, err)
		}
		subject, body = tpl.Subject, tpl.Content
	}
	if step.Subject != nil {
		subject = *step.Subject
	}
	if step.Content != nil {
		body = *step.Content
	}
	if body == "" {
		return "", "", fmt.Errorf("step %d has no content", step.Order)
	}
	return subject, body, nil
}

// advance writes the new pointer. It reports false, having recorded the
// failure, when the write did not happen.
func (p *Processor) advance(ctx context.Context, e *domain.Enrollment, order int, next *time.Time, status domain.EnrollmentStatus, now time.Time, state *runState) bool {
	err := p.deps.Enrollments.Advance(ctx, enrollment.AdvanceInput{
		EnrollmentID: e.ID,
		ClaimToken:   e.ClaimToken,
		StepOrder:    order,
		NextSendAt:   next,
		Status:       status,
		Now:          now,
	})
	if err == nil {
		return true
	}
	if errors.Is(err, enrollment.ErrClaimLost) {
		logger.Warn("claim lost before advance", "enrollment_id", e.ID, "step_order", order)
	} else {
		logger.Error("advance enrollment failed", "enrollment_id", e.ID, "step_order", order, "error", err.Error())
	}
	state.fail(e, order, fmt.Errorf("advance: %w", err))
	return false
}

// abort records a failure and releases the claim so the step is retried on
// a later run with the pointer untouched.
func (p *Processor) abort(ctx context.Context, e *domain.Enrollment, order int, err error, state *runState) {
	logger.Warn("step failed", "enrollment_id", e.ID, "step_order", order, "error", err.Error())
	state.fail(e, order, err)
	p.release(context.WithoutCancel(ctx), e)
}

func (p *Processor) release(ctx context.Context, e *domain.Enrollment) {
	if err := p.deps.Enrollments.Release(ctx, e.ID, e.ClaimToken); err != nil && !errors.Is(err, enrollment.ErrClaimLost) {
		logger.Warn("release claim failed", "enrollment_id", e.ID, "error", err.Error())
	}
}

func (p *Processor) emitCompleted(ctx context.Context, e *domain.Enrollment, now time.Time) {
	activity.Emit(ctx, p.deps.Publisher, activity.Event{
		Type:           activity.EnrollmentCompleted,
		OrganizationID: e.OrganizationID,
		SequenceID:     e.SequenceID,
		EnrollmentID:   e.ID,
		InvestorID:     e.InvestorID,
		OccurredAt:     now,
	})
}

// Variables builds the interpolation context for an investor and optional
// campaign. Keys are available both flat and under "investor."/"campaign.".
func Variables(inv *domain.Investor, camp *domain.Campaign) mailing.Vars {
	fields := map[string]string{
		"first_name":   inv.FirstName,
		"last_name":    inv.LastName,
		"name":         inv.FullName(),
		"full_name":    inv.FullName(),
		"email":        inv.Email,
		"firm":         inv.Firm,
		"company":      inv.Firm,
		"title":        inv.Title,
		"linkedin_url": inv.LinkedInURL,
	}
	v := make(mailing.Vars, 2*len(fields)+6)
	for k, val := range fields {
		v[k] = val
		v["investor."+k] = val
	}
	if camp != nil {
		v["campaign_name"] = camp.Name
		v["sender_name"] = camp.SenderName
		v["sender_email"] = camp.SenderEmail
		v["campaign.name"] = camp.Name
		v["campaign.sender_name"] = camp.SenderName
		v["campaign.sender_email"] = camp.SenderEmail
	}
	return v
}
