// Package memory is an in-process implementation of every repository
// contract. It keeps no data across restarts and is meant for tests and
// demo deployments selected explicitly with store.driver=memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/investor-outreach/internal/domain"
	"github.com/ignite/investor-outreach/internal/service/directory"
	"github.com/ignite/investor-outreach/internal/service/enrollment"
	"github.com/ignite/investor-outreach/internal/service/outreach"
	"github.com/ignite/investor-outreach/internal/service/sequence"
)

// Store holds all state behind one mutex. The repository views returned by
// its accessors share that state.
type Store struct {
	mu          sync.Mutex
	sequences   map[string]*domain.Sequence
	steps       map[string][]*domain.Step // sequence id -> steps in order
	enrollments map[string]*domain.Enrollment
	pairs       map[string]string           // sequence id + investor id -> enrollment id
	outreach    map[string]*domain.Outreach // tracking id
	investors   map[string]*domain.Investor
	templates   map[string]*domain.Template
	campaigns   map[string]*domain.Campaign
}

// New creates an empty store.
func New() *Store {
	return &Store{
		sequences:   make(map[string]*domain.Sequence),
		steps:       make(map[string][]*domain.Step),
		enrollments: make(map[string]*domain.Enrollment),
		pairs:       make(map[string]string),
		outreach:    make(map[string]*domain.Outreach),
		investors:   make(map[string]*domain.Investor),
		templates:   make(map[string]*domain.Template),
		campaigns:   make(map[string]*domain.Campaign),
	}
}

// Sequences returns the sequence repository view.
func (s *Store) Sequences() *SequenceRepo { return &SequenceRepo{s} }

// Enrollments returns the enrollment repository view.
func (s *Store) Enrollments() *EnrollmentRepo { return &EnrollmentRepo{s} }

// Outreach returns the outreach repository view.
func (s *Store) Outreach() *OutreachRepo { return &OutreachRepo{s} }

// Directory returns the read-only CRM directory view.
func (s *Store) Directory() *DirectoryRepo { return &DirectoryRepo{s} }

// PutInvestor adds or replaces an investor.
func (s *Store) PutInvestor(i domain.Investor) {
	s.mu.Lock()
	s.investors[i.ID] = &i
	s.mu.Unlock()
}

// PutTemplate adds or replaces a template.
func (s *Store) PutTemplate(t domain.Template) {
	s.mu.Lock()
	s.templates[t.ID] = &t
	s.mu.Unlock()
}

// PutCampaign adds or replaces a campaign.
func (s *Store) PutCampaign(c domain.Campaign) {
	s.mu.Lock()
	s.campaigns[c.ID] = &c
	s.mu.Unlock()
}

// Enrollment returns a copy of an enrollment including its claim fields.
func (s *Store) Enrollment(id string) (domain.Enrollment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok {
		return domain.Enrollment{}, false
	}
	return copyEnrollment(e), true
}

// OutreachRecords returns every outreach in sent_at order.
func (s *Store) OutreachRecords() []domain.Outreach {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Outreach, 0, len(s.outreach))
	for _, o := range s.outreach {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].SentAt, out[j].SentAt
		if a == nil || b == nil || a.Equal(*b) {
			return out[i].ID < out[j].ID
		}
		return a.Before(*b)
	})
	return out
}

func pairKey(sequenceID, investorID string) string {
	return sequenceID + "\x00" + investorID
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyEnrollment(e *domain.Enrollment) domain.Enrollment {
	c := *e
	c.NextSendAt = copyTime(e.NextSendAt)
	c.StartedAt = copyTime(e.StartedAt)
	c.CompletedAt = copyTime(e.CompletedAt)
	c.ClaimExpiresAt = copyTime(e.ClaimExpiresAt)
	c.Investor = nil
	return c
}

// SequenceRepo implements sequence.Repository.
type SequenceRepo struct{ s *Store }

func (r *SequenceRepo) Create(_ context.Context, seq *domain.Sequence) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.sequences[seq.ID]; exists {
		return fmt.Errorf("create sequence: duplicate id %s", seq.ID)
	}
	c := *seq
	r.s.sequences[seq.ID] = &c
	return nil
}

func (r *SequenceRepo) Get(_ context.Context, id string) (*domain.Sequence, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seq, ok := r.s.sequences[id]
	if !ok {
		return nil, sequence.ErrNotFound
	}
	c := *seq
	return &c, nil
}

func (r *SequenceRepo) Steps(_ context.Context, sequenceID string) ([]domain.Step, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	steps := r.s.steps[sequenceID]
	out := make([]domain.Step, 0, len(steps))
	for _, st := range steps {
		out = append(out, *st)
	}
	return out, nil
}

func (r *SequenceRepo) StepAt(_ context.Context, sequenceID string, order int) (*domain.Step, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	steps := r.s.steps[sequenceID]
	if order < 1 || order > len(steps) {
		return nil, sequence.ErrStepNotFound
	}
	c := *steps[order-1]
	return &c, nil
}

func (r *SequenceRepo) AddStep(_ context.Context, step *domain.Step) (*domain.Step, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sequences[step.SequenceID]; !ok {
		return nil, sequence.ErrNotFound
	}
	c := *step
	c.Order = len(r.s.steps[step.SequenceID]) + 1
	r.s.steps[step.SequenceID] = append(r.s.steps[step.SequenceID], &c)
	out := c
	return &out, nil
}

func (r *SequenceRepo) DeleteStep(_ context.Context, sequenceID, stepID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	steps := r.s.steps[sequenceID]
	for i, st := range steps {
		if st.ID != stepID {
			continue
		}
		rest := append(steps[:i:i], steps[i+1:]...)
		for j, later := range rest {
			later.Order = j + 1
		}
		r.s.steps[sequenceID] = rest
		return nil
	}
	return sequence.ErrStepNotFound
}

func (r *SequenceRepo) SetStatus(_ context.Context, id string, status domain.SequenceStatus, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seq, ok := r.s.sequences[id]
	if !ok {
		return sequence.ErrNotFound
	}
	seq.Status = status
	if status != domain.SequenceActive {
		return nil
	}
	started := now.UTC()
	for _, e := range r.s.enrollments {
		if e.SequenceID == id && e.StartedAt == nil {
			t := started
			e.StartedAt = &t
		}
	}
	return nil
}

// EnrollmentRepo implements enrollment.Repository.
type EnrollmentRepo struct{ s *Store }

func (r *EnrollmentRepo) Enroll(_ context.Context, batch []*domain.Enrollment) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range batch {
		if _, ok := r.s.investors[e.InvestorID]; !ok {
			return 0, fmt.Errorf("%w: %s", enrollment.ErrInvestorNotFound, e.InvestorID)
		}
	}
	n := 0
	for _, e := range batch {
		key := pairKey(e.SequenceID, e.InvestorID)
		if _, exists := r.s.pairs[key]; exists {
			continue
		}
		c := copyEnrollment(e)
		r.s.enrollments[c.ID] = &c
		r.s.pairs[key] = c.ID
		n++
	}
	return n, nil
}

func (r *EnrollmentRepo) Unenroll(_ context.Context, sequenceID string, investorIDs []string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, inv := range investorIDs {
		key := pairKey(sequenceID, inv)
		id, ok := r.s.pairs[key]
		if !ok {
			continue
		}
		delete(r.s.pairs, key)
		delete(r.s.enrollments, id)
		n++
	}
	return n, nil
}

func (r *EnrollmentRepo) List(_ context.Context, sequenceID string, f enrollment.ListFilter) ([]domain.Enrollment, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []domain.Enrollment
	for _, e := range r.s.enrollments {
		if e.SequenceID != sequenceID || (f.Status != "" && e.Status != f.Status) {
			continue
		}
		c := copyEnrollment(e)
		if inv, ok := r.s.investors[e.InvestorID]; ok {
			sum := inv.Summary()
			c.Investor = &sum
		}
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].EnrolledAt.Equal(all[j].EnrolledAt) {
			return all[i].EnrolledAt.Before(all[j].EnrolledAt)
		}
		return all[i].ID < all[j].ID
	})

	total := len(all)
	if f.Offset >= total {
		return []domain.Enrollment{}, total, nil
	}
	end := f.Offset + f.Limit
	if f.Limit <= 0 || end > total {
		end = total
	}
	return all[f.Offset:end], total, nil
}

func (r *EnrollmentRepo) BulkSetStatus(_ context.Context, ids []string, status domain.EnrollmentStatus, now time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if e, ok := r.s.enrollments[id]; ok && e.ApplyStatus(status, now) {
			n++
		}
	}
	return n, nil
}

func (r *EnrollmentRepo) ClaimDue(_ context.Context, now time.Time, limit int, ttl time.Duration) ([]domain.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var due []*domain.Enrollment
	for _, e := range r.s.enrollments {
		seq, ok := r.s.sequences[e.SequenceID]
		if !ok || seq.Status != domain.SequenceActive {
			continue
		}
		if e.IsDue(now) && !e.IsClaimed(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := *due[i].NextSendAt, *due[j].NextSendAt
		if !a.Equal(b) {
			return a.Before(b)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	expires := now.UTC().Add(ttl)
	out := make([]domain.Enrollment, 0, len(due))
	for _, e := range due {
		exp := expires
		e.ClaimToken = uuid.NewString()
		e.ClaimExpiresAt = &exp
		out = append(out, copyEnrollment(e))
	}
	return out, nil
}

func (r *EnrollmentRepo) Advance(_ context.Context, in enrollment.AdvanceInput) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[in.EnrollmentID]
	if !ok || e.ClaimToken == "" || e.ClaimToken != in.ClaimToken {
		return enrollment.ErrClaimLost
	}
	e.ApplyAdvance(in.StepOrder, in.NextSendAt, in.Status, in.Now)
	return nil
}

func (r *EnrollmentRepo) Release(_ context.Context, id, claimToken string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if !ok || e.ClaimToken == "" || e.ClaimToken != claimToken {
		return enrollment.ErrClaimLost
	}
	e.ClaimToken = ""
	e.ClaimExpiresAt = nil
	return nil
}

func (r *EnrollmentRepo) ReleaseExpired(_ context.Context, now time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, e := range r.s.enrollments {
		if e.ClaimToken != "" && !e.IsClaimed(now) {
			e.ClaimToken = ""
			e.ClaimExpiresAt = nil
			n++
		}
	}
	return n, nil
}

func (r *EnrollmentRepo) Stats(_ context.Context, now, overdueBefore time.Time) (*enrollment.Stats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st := &enrollment.Stats{}
	for _, e := range r.s.enrollments {
		switch e.Status {
		case domain.EnrollmentActive:
			st.Active++
		case domain.EnrollmentPaused:
			st.Paused++
		case domain.EnrollmentCompleted:
			st.Completed++
		case domain.EnrollmentCancelled:
			st.Cancelled++
		}
		if e.IsClaimed(now) {
			st.Claimed++
		}
		seq, ok := r.s.sequences[e.SequenceID]
		if !ok || seq.Status != domain.SequenceActive || !e.IsDue(now) {
			continue
		}
		st.Due++
		if e.NextSendAt.Before(overdueBefore) {
			st.Overdue++
		}
	}
	return st, nil
}

// OutreachRepo implements outreach.Repository.
type OutreachRepo struct{ s *Store }

func (r *OutreachRepo) Create(_ context.Context, o *domain.Outreach) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.outreach[o.TrackingID]; exists {
		return fmt.Errorf("create outreach: duplicate tracking id %s", o.TrackingID)
	}
	c := *o
	r.s.outreach[o.TrackingID] = &c
	return nil
}

func (r *OutreachRepo) GetByTrackingID(_ context.Context, trackingID string) (*domain.Outreach, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.outreach[trackingID]
	if !ok {
		return nil, outreach.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (r *OutreachRepo) Upgrade(_ context.Context, trackingID string, target domain.OutreachStatus, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.outreach[trackingID]
	if !ok {
		return false, nil
	}
	return o.Upgrade(target, at), nil
}

// DirectoryRepo implements directory.Directory.
type DirectoryRepo struct{ s *Store }

func (r *DirectoryRepo) Investor(_ context.Context, id string) (*domain.Investor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	i, ok := r.s.investors[id]
	if !ok {
		return nil, directory.ErrNotFound
	}
	c := *i
	return &c, nil
}

func (r *DirectoryRepo) Template(_ context.Context, id string) (*domain.Template, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.templates[id]
	if !ok {
		return nil, directory.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (r *DirectoryRepo) Campaign(_ context.Context, id string) (*domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, directory.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

var (
	_ sequence.Repository   = (*SequenceRepo)(nil)
	_ enrollment.Repository = (*EnrollmentRepo)(nil)
	_ outreach.Repository   = (*OutreachRepo)(nil)
	_ directory.Directory   = (*DirectoryRepo)(nil)
)
