package worker

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/investor-outreach/internal/activity"
	"github.com/ignite/investor-outreach/internal/domain"
	"github.com/ignite/investor-outreach/internal/mailing"
	"github.com/ignite/investor-outreach/internal/repository/memory"
	"github.com/ignite/investor-outreach/internal/service/enrollment"
	"github.com/ignite/investor-outreach/internal/service/sequence"
)

var epoch = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu       sync.Mutex
	sent     []*domain.Message
	failFor  map[string]bool
	panicFor map[string]bool
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (g *fakeGateway) Send(ctx context.Context, msg *domain.Message) (*domain.SendResult, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		seen := g.maxSeen.Load()
		if n <= seen || g.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.panicFor[msg.InvestorID] {
		panic("driver exploded")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failFor[msg.InvestorID] {
		return nil, errors.New("provider unavailable")
	}
	g.sent = append(g.sent, msg)
	return &domain.SendResult{ProviderMessageID: "pm-" + msg.TrackingID, Channel: "fake"}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []activity.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev activity.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type harness struct {
	store     *memory.Store
	clock     *clockwork.FakeClock
	gateway   *fakeGateway
	publisher *recordingPublisher
	seqs      *sequence.Service
	enrolls   *enrollment.Service
	proc      *Processor
	seq       *domain.Sequence
}

func newHarness(t *testing.T, cfg ProcessorConfig) *harness {
	t.Helper()
	h := &harness{
		store:     memory.New(),
		clock:     clockwork.NewFakeClockAt(epoch),
		gateway:   &fakeGateway{failFor: map[string]bool{}, panicFor: map[string]bool{}},
		publisher: &recordingPublisher{},
	}
	h.seqs = sequence.NewService(h.store.Sequences(), h.clock)
	h.enrolls = enrollment.NewService(h.store.Enrollments(), h.store.Sequences(), h.clock, time.Hour)

	for _, inv := range []domain.Investor{
		{ID: "inv-1", FirstName: "Ada", LastName: "Lovelace", Email: "ada@fund.vc", Firm: "Analytical Capital"},
		{ID: "inv-2", FirstName: "Grace", LastName: "Hopper", Email: "grace@fund.vc", Firm: "Cobol Ventures"},
		{ID: "inv-3", FirstName: "Alan", Email: "alan@fund.vc"},
	} {
		h.store.PutInvestor(inv)
	}

	seq, err := h.seqs.Create(context.Background(), sequence.CreateInput{OrganizationID: "org-1", Name: "Seed outreach"})
	require.NoError(t, err)
	h.seq = seq

	if cfg.Tracking == (mailing.Options{}) {
		cfg.Tracking = mailing.DefaultOptions()
	}
	h.proc = NewProcessor(ProcessorDeps{
		Enrollments: h.store.Enrollments(),
		Sequences:   h.store.Sequences(),
		Outreach:    h.store.Outreach(),
		Directory:   h.store.Directory(),
		Gateway:     h.gateway,
		Preparer:    mailing.NewPreparer("https://t.example.com"),
		Publisher:   h.publisher,
		Clock:       h.clock,
	}, cfg)
	return h
}

func ptr(s string) *string { return &s }

func (h *harness) addStep(t *testing.T, typ domain.StepType, delay int) {
	t.Helper()
	in := sequence.AddStepInput{Type: typ, DelayDays: delay}
	if typ.Sendable() {
		in.Subject = ptr("Hello {{first_name}}")
		in.Content = ptr(`<html><body><p>Hi {{ first_name }} at {{firm}}</p><a href="https://deck.example.com">deck</a></body></html>`)
	}
	_, err := h.seqs.AddStep(context.Background(), h.seq.ID, in)
	require.NoError(t, err)
}

func (h *harness) activate(t *testing.T) {
	t.Helper()
	require.NoError(t, h.seqs.Activate(context.Background(), h.seq.ID))
}

func (h *harness) enroll(t *testing.T, ids ...string) {
	t.Helper()
	res, err := h.enrolls.Enroll(context.Background(), enrollment.EnrollInput{SequenceID: h.seq.ID, InvestorIDs: ids})
	require.NoError(t, err)
	require.Equal(t, len(ids), res.Enrolled)
}

func (h *harness) enrollmentOf(t *testing.T, investorID string) domain.Enrollment {
	t.Helper()
	list, _, err := h.store.Enrollments().List(context.Background(), h.seq.ID, enrollment.ListFilter{Limit: 100})
	require.NoError(t, err)
	for _, e := range list {
		if e.InvestorID == investorID {
			full, ok := h.store.Enrollment(e.ID)
			require.True(t, ok)
			return full
		}
	}
	t.Fatalf("no enrollment for %s", investorID)
	return domain.Enrollment{}
}

func (h *harness) run(t *testing.T) *RunSummary {
	t.Helper()
	s, err := h.proc.Run(context.Background())
	require.NoError(t, err)
	return s
}

func TestFullSequenceRunCompletes(t *testing.T) {
	h := newHarness(t, ProcessorConfig{})
	h.addStep(t, domain.StepEmail, 0)
	h.addStep(t, domain.StepWait, 2)
	h.addStep(t, domain.StepLinkedIn, 3)
	h.addStep(t, domain.StepEmail, 1)
	h.activate(t)
	h.enroll(t, "inv-1")

	expectNext := []time.Duration{2 * 24 * time.Hour, 3 * 24 * time.Hour, 24 * time.Hour}
	for i := 1; i <= 4; i++ {
		s := h.run(t)
		require.Equal(t, 1, s.Processed, "run %d", i)
		require.Zero(t, s.Errors, "run %d: %v", i, s.Failures)

		e := h.enrollmentOf(t, "inv-1")
		assert.Equal(t, i, e.CurrentStepOrder)
		assert.Empty(t, e.ClaimToken, "claim cleared after advance")
		if i < 4 {
			require.Equal(t, domain.EnrollmentActive, e.Status)
			require.NotNil(t, e.NextSendAt)
			assert.Equal(t, h.clock.Now().UTC().Add(expectNext[i-1]), *e.NextSendAt)

			// nothing fires before the next step is due
			h.clock.Advance(expectNext[i-1] - time.Minute)
			assert.Zero(t, h.run(t).Claimed)
			h.clock.Advance(time.Minute)
		}
	}

	e := h.enrollmentOf(t, "inv-1")
	assert.Equal(t, domain.EnrollmentCompleted, e.Status)
	assert.Nil(t, e.NextSendAt)
	require.NotNil(t, e.CompletedAt)

	records := h.store.OutreachRecords()
	require.Len(t, records, 3, "one outreach per non-wait step")
	for _, o := range records {
		assert.Equal(t, domain.OutreachSent, o.Status)
		assert.NotEmpty(t, o.TrackingID)
	}
	assert.Equal(t, []domain.StepType{domain.StepEmail, domain.StepLinkedIn, domain.StepEmail},
		[]domain.StepType{records[0].Type, records[1].Type, records[2].Type})

	assert.Equal(t, 0, h.run(t).Claimed, "completed enrollments are never claimed")
	assert.Contains(t, h.publisher.types(), activity.EnrollmentCompleted)
}

func TestSendFailureLeavesPointerAndReleasesClaim(t *testing.T) {
	h := newHarness(t, ProcessorConfig{})
	h.addStep(t, domain.StepEmail, 1)
	h.addStep(t, domain.StepEmail, 2)
	h.activate(t)
	h.enroll(t, "inv-1")
	h.clock.Advance(24 * time.Hour)

	before := h.enrollmentOf(t, "inv-1")
	h.gateway.failFor["inv-1"] = true

	s := h.run(t)
	assert.Equal(t, 0, s.Processed)
	assert.Equal(t, 0, s.Sent)
	assert.Equal(t, 1, s.Errors)
	require.Len(t, s.Failures, 1)
	assert.Contains(t, s.Failures[0].Error, "provider unavailable")
	assert.Equal(t, 1, s.Failures[0].StepOrder)

	after := h.enrollmentOf(t, "inv-1")
	assert.Equal(t, before.CurrentStepOrder, after.CurrentStepOrder)
	assert.Equal(t, *before.NextSendAt, *after.NextSendAt)
	assert.Empty(t, after.ClaimToken)
	assert.Empty(t, h.store.OutreachRecords())

	again, err := h.store.Enrollments().ClaimDue(context.Background(), h.clock.Now(), 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, again, 1, "claimable again on the next due check")
}

func TestPanicIsIsolatedToOneEnrollment(t *testing.T) {
	h := newHarness(t, ProcessorConfig{Concurrency: 2})
	h.addStep(t, domain.StepEmail, 0)
	h.addStep(t, domain.StepEmail, 1)
	h.activate(t)
	h.enroll(t, "inv-1", "inv-2", "inv-3")
	h.gateway.panicFor["inv-2"] = true

	var s *RunSummary
	require.NotPanics(t, func() { s = h.run(t) })
	assert.Equal(t, 3, s.Claimed)
	assert.Equal(t, 2, s.Sent)
	assert.Equal(t, 1, s.Errors)
	require.Len(t, s.Failures, 1)
	assert.Equal(t, "inv-2", s.Failures[0].InvestorID)
	assert.Contains(t, s.Failures[0].Error, "panic: driver exploded")

	failed := h.enrollmentOf(t, "inv-2")
	assert.Equal(t, 0, failed.CurrentStepOrder)
	assert.Empty(t, failed.ClaimToken, "claim released for the next run")
	assert.Equal(t, 1, h.enrollmentOf(t, "inv-1").CurrentStepOrder)
	assert.Equal(t, 1, h.enrollmentOf(t, "inv-3").CurrentStepOrder)
}

func TestMultibyteContentGetsPixel(t *testing.T) {
	h := newHarness(t, ProcessorConfig{})
	content := "<html><body>" + strings.Repeat("\u023a", 30) + " Fund</body></html>"
	_, err := h.seqs.AddStep(context.Background(), h.seq.ID, sequence.AddStepInput{Type: domain.StepEmail, Content: &content})
	require.NoError(t, err)
	h.activate(t)
	h.enroll(t, "inv-1", "inv-2")

	s := h.run(t)
	assert.Equal(t, 2, s.Sent)
	assert.Zero(t, s.Errors)
	for _, msg := range h.gateway.sent {
		assert.True(t, strings.HasSuffix(msg.HTML, "/></body></html>"), msg.HTML)
	}
}

func TestFailureIsolation(t *testing.T) {
	h := newHarness(t, ProcessorConfig{Concurrency: 3})
	h.addStep(t, domain.StepEmail, 0)
	h.addStep(t, domain.StepEmail, 1)
	h.activate(t)
	h.enroll(t, "inv-1", "inv-2", "inv-3")
	h.gateway.failFor["inv-2"] = true

	s := h.run(t)
	assert.Equal(t, 3, s.Claimed)
	assert.Equal(t, 2, s.Processed)
	assert.Equal(t, 2, s.Sent)
	assert.Equal(t, 1, s.Errors)

	assert.Equal(t, 1, h.enrollmentOf(t, "inv-1").CurrentStepOrder)
	assert.Equal(t, 0, h.enrollmentOf(t, "inv-2").CurrentStepOrder)
	assert.Equal(t, 1, h.enrollmentOf(t, "inv-3").CurrentStepOrder)
}

func TestRenderedContentIsTracked(t *testing.T) {
	h := newHarness(t, ProcessorConfig{FromName: "Seed Co", FromEmail: "founder@seed.co"})
	h.addStep(t, domain.StepEmail, 0)
	h.activate(t)
	h.enroll(t, "inv-1")

	h.run(t)
	require.Len(t, h.gateway.sent, 1)
	msg := h.gateway.sent[0]
	assert.Equal(t, "Hello Ada", msg.Subject)
	assert.Equal(t, "ada@fund.vc", msg.To)
	assert.Equal(t, "Seed Co", msg.FromName)
	assert.Contains(t, msg.HTML, "Hi Ada at Analytical Capital")
	assert.Contains(t, msg.HTML, mailing.OpenPath+"?tid="+msg.TrackingID)
	assert.Contains(t, msg.HTML, "url="+url.QueryEscape("https://deck.example.com"))

	records := h.store.OutreachRecords()
	require.Len(t, records, 1)
	assert.Equal(t, msg.TrackingID, records[0].TrackingID)
	assert.Equal(t, "pm-"+msg.TrackingID, records[0].ProviderMessageID)
	assert.NotContains(t, records[0].Content, mailing.OpenPath, "stored content is pre-tracking")
}

func TestNonEmailStepsGetNoPixel(t *testing.T) {
	h := newHarness(t, ProcessorConfig{})
	h.addStep(t, domain.StepTask, 0)
	h.activate(t)
	h.enroll(t, "inv-1")

	h.run(t)
	require.Len(t, h.gateway.sent, 1)
	assert.NotContains(t, h.gateway.sent[0].HTML, mailing.OpenPath)
	assert.Contains(t, h.gateway.sent[0].HTML, mailing.ClickPath)
}

func TestTemplateContentAndLiteralOverride(t *testing.T) {
	h := newHarness(t, ProcessorConfig{})
	h.store.PutTemplate(domain.Template{ID: "tpl-1", Subject: "Template subject", Content: "<p>Dear {{ name }}</p>"})
	_, err := h.seqs.AddStep(context.Background(), h.seq.ID, sequence.AddStepInput{
		Type: domain.StepEmail, TemplateID: ptr("tpl-1"), Subject: ptr("Quick intro for {{firm}}"),
	})
	require.NoError(t, err)
	h.activate(t)
	h.enroll(t, "inv-2")

	h.run(t)
	require.Len(t, h.gateway.sent, 1)
	assert.Equal(t, "Quick intro for Cobol Ventures", h.gateway.sent[0].Subject)
	assert.Contains(t, h.gateway.sent[0].HTML, "Dear Grace Hopper")
}

func TestMissingTemplateIsAFailure(t *testing.T) {
	h := newHarness(t, ProcessorConfig{})
	_, err := h.seqs.AddStep(context.Background(), h.seq.ID, sequence.AddStepInput{Type: domain.StepEmail, TemplateID: ptr("gone")})
	require.NoError(t, err)
	h.activate(t)
	h.enroll(t, "inv-1")

	s := h.run(t)
	assert.Equal(t, 1, s.Errors)
	assert.Equal(t, 0, h.enrollmentOf(t, "inv-1").CurrentStepOrder)
}

func TestSequenceWithoutStepsCompletes(t *testing.T) {
	h := newHarness(t, ProcessorConfig{})
	h.activate(t)
	h.enroll(t, "inv-1")

	s := h.run(t)
	assert.Equal(t, 1, s.Processed)
	assert.Equal(t, 0, s.Sent)
	assert.Equal(t, domain.EnrollmentCompleted, h.enrollmentOf(t, "inv-1").Status)
}

func TestDraftSequenceDoesNotFire(t *testing.T) {
	h := newHarness(t, ProcessorConfig{})
	h.addStep(t, domain.StepEmail, 0)
	h.enroll(t, "inv-1")

	assert.Zero(t, h.run(t).Claimed)
	assert.Nil(t, h.enrollmentOf(t, "inv-1").StartedAt)

	h.activate(t)
	assert.NotNil(t, h.enrollmentOf(t, "inv-1").StartedAt)
	assert.Equal(t, 1, h.run(t).Sent)
}

func TestPausedEnrollmentResumesDueNow(t *testing.T) {
	h := newHarness(t, ProcessorConfig{})
	h.addStep(t, domain.StepEmail, 1)
	h.activate(t)
	h.enroll(t, "inv-1")
	id := h.enrollmentOf(t, "inv-1").ID

	_, err := h.enrolls.BulkSetStatus(context.Background(), []string{id}, domain.EnrollmentPaused)
	require.NoError(t, err)
	h.clock.Advance(72 * time.Hour)
	assert.Zero(t, h.run(t).Claimed, "paused enrollments are not claimed")

	_, err = h.enrolls.BulkSetStatus(context.Background(), []string{id}, domain.EnrollmentActive)
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now().UTC(), *h.enrollmentOf(t, "inv-1").NextSendAt)
	assert.Equal(t, 1, h.run(t).Sent)
}

type failingOutreach struct {
	*memory.OutreachRepo
}

func (failingOutreach) Create(context.Context, *domain.Outreach) error {
	return errors.New("insert outreach: connection reset")
}

func TestOutreachWriteFailureStillAdvances(t *testing.T) {
	h := newHarness(t, ProcessorConfig{})
	h.proc.deps.Outreach = failingOutreach{h.store.Outreach()}
	h.addStep(t, domain.StepEmail, 0)
	h.activate(t)
	h.enroll(t, "inv-1")

	s := h.run(t)
	assert.Equal(t, 1, s.Sent)
	assert.Equal(t, 1, s.Processed)
	assert.Equal(t, 1, s.Errors)
	assert.Equal(t, domain.EnrollmentCompleted, h.enrollmentOf(t, "inv-1").Status, "message is not re-sent")
}

func TestConcurrencyIsBounded(t *testing.T) {
	h := newHarness(t, ProcessorConfig{Concurrency: 2})
	h.gateway.delay = 20 * time.Millisecond
	h.addStep(t, domain.StepEmail, 0)
	h.activate(t)
	ids := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		id := "bulk-" + strings.Repeat("x", i+1)
		h.store.PutInvestor(domain.Investor{ID: id, Email: id + "@fund.vc"})
		ids = append(ids, id)
	}
	h.enroll(t, ids...)

	s := h.run(t)
	assert.Equal(t, 8, s.Sent)
	assert.LessOrEqual(t, h.gateway.maxSeen.Load(), int32(2))
}

func TestBatchSizeLimitsClaims(t *testing.T) {
	h := newHarness(t, ProcessorConfig{BatchSize: 2})
	h.addStep(t, domain.StepWait, 0)
	h.activate(t)
	h.enroll(t, "inv-1", "inv-2", "inv-3")

	assert.Equal(t, 2, h.run(t).Claimed)
	assert.Equal(t, 1, h.run(t).Claimed)
}

func TestCancelledContextReleasesClaims(t *testing.T) {
	h := newHarness(t, ProcessorConfig{Concurrency: 1})
	h.addStep(t, domain.StepEmail, 0)
	h.activate(t)
	h.enroll(t, "inv-1", "inv-2")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, err := h.proc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Claimed)
	assert.Zero(t, s.Processed)

	for _, id := range []string{"inv-1", "inv-2"} {
		assert.Empty(t, h.enrollmentOf(t, id).ClaimToken)
	}
}

func TestClaimSweeper(t *testing.T) {
	h := newHarness(t, ProcessorConfig{})
	h.addStep(t, domain.StepEmail, 0)
	h.activate(t)
	h.enroll(t, "inv-1")

	_, err := h.store.Enrollments().ClaimDue(context.Background(), h.clock.Now(), 10, time.Minute)
	require.NoError(t, err)

	sweeper := NewClaimSweeper(h.store.Enrollments(), nil, h.clock, time.Minute)
	n, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(2 * time.Minute)
	n, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, h.enrollmentOf(t, "inv-1").ClaimToken)
}

type blockingRunner struct {
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingRunner) Run(ctx context.Context) (*RunSummary, error) {
	b.calls.Add(1)
	<-b.release
	return &RunSummary{}, nil
}

func TestSchedulerSkipsOverlappingTicks(t *testing.T) {
	r := &blockingRunner{release: make(chan struct{})}
	s := NewScheduler(r, clockwork.NewFakeClock(), time.Minute)

	done := make(chan bool)
	go func() { done <- s.Tick(context.Background()) }()
	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, time.Millisecond)

	assert.False(t, s.Tick(context.Background()))
	assert.Equal(t, int64(1), s.Skipped())

	close(r.release)
	assert.True(t, <-done)
}
