// Package memory keeps schedules, time blocks and commitments in process memory.
// It serves single-instance deployments and tests; every operation honors the same
// contracts as the PostgreSQL store.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/errs"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/ledger"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/outbox"
)

const (
	publishQueueSize = 256
	publishTimeout   = 5 * time.Second
)

type Store struct {
	mu          sync.RWMutex
	schedules   map[string]model.Schedule
	blocks      map[string]model.TimeBlock
	commitments map[string]model.Commitment

	locksMu sync.Mutex
	locks   map[string]*mentorMutex

	sink    outbox.Sink
	logger  *slog.Logger
	timeout time.Duration

	// Committed events leave through queue, after every lock is released.
	queueMu sync.RWMutex
	queue   chan publishBatch
	closed  bool
	pending sync.WaitGroup
	done    chan struct{}
}

type publishBatch struct {
	ctx    context.Context
	events []outbox.Event
}

type mentorMutex struct {
	mu   sync.Mutex
	refs int
}

var _ ledger.Ledger = (*Store)(nil)

func New(sink outbox.Sink, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		schedules:   map[string]model.Schedule{},
		blocks:      map[string]model.TimeBlock{},
		commitments: map[string]model.Commitment{},
		locks:       map[string]*mentorMutex{},
		sink:        sink,
		logger:      logger,
		timeout:     publishTimeout,
	}
	if sink != nil {
		s.queue = make(chan publishBatch, publishQueueSize)
		s.done = make(chan struct{})
		go s.dispatch()
	}
	return s
}

// Flush blocks until every event handed off so far has been published or dropped.
// It must not race with new commits.
func (s *Store) Flush() {
	s.pending.Wait()
}

// Close drains queued events and stops the publisher goroutine. Events committed
// afterwards are logged and dropped.
func (s *Store) Close() {
	if s.queue == nil {
		return
	}
	s.queueMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.queueMu.Unlock()
	<-s.done
}

func (s *Store) handOff(ctx context.Context, events []outbox.Event) {
	if s.queue == nil || len(events) == 0 {
		return
	}
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	if s.closed {
		s.logger.Warn("events dropped after close", "count", len(events))
		return
	}
	s.pending.Add(1)
	select {
	case s.queue <- publishBatch{ctx: context.WithoutCancel(ctx), events: events}:
	default:
		s.pending.Done()
		s.logger.Warn("event queue full, events dropped", "count", len(events))
	}
}

func (s *Store) dispatch() {
	defer close(s.done)
	for batch := range s.queue {
		for _, evt := range batch.events {
			ctx, cancel := context.WithTimeout(batch.ctx, s.timeout)
			if err := s.sink.Publish(ctx, evt); err != nil {
				s.logger.Warn("event publish failed", "err", err, "event_type", evt.EventType)
			}
			cancel()
		}
		s.pending.Done()
	}
}

func (s *Store) GetSchedule(_ context.Context, mentorID string) (model.Schedule, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sch, ok := s.schedules[mentorID]
	if !ok {
		return model.Schedule{}, false, nil
	}
	sch.Rules = slices.Clone(sch.Rules)
	return sch, true, nil
}

func (s *Store) ReplaceRules(_ context.Context, mentorID, timezone string, rules []model.WeeklyRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.WeeklyRule, 0, len(rules))
	for _, r := range rules {
		r.MentorID = mentorID
		out = append(out, r)
	}
	s.schedules[mentorID] = model.Schedule{MentorID: mentorID, Timezone: timezone, Rules: out}
	return nil
}

func (s *Store) SetTimezone(_ context.Context, mentorID, timezone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sch := s.schedules[mentorID]
	sch.MentorID = mentorID
	sch.Timezone = timezone
	s.schedules[mentorID] = sch
	return nil
}

func (s *Store) CreateBlock(_ context.Context, b model.TimeBlock) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.ID = uuid.NewString()
	b.Start = b.Start.UTC()
	b.End = b.End.UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	s.blocks[b.ID] = b
	return b.ID, nil
}

func (s *Store) DeleteBlock(_ context.Context, blockID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocks[blockID]; !ok {
		return errs.NotFound("time block", blockID)
	}
	delete(s.blocks, blockID)
	return nil
}

func (s *Store) ListBlocks(_ context.Context, mentorID string, from, to time.Time) ([]model.TimeBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	window := interval.Interval{Start: from, End: to}
	var out []model.TimeBlock
	for _, b := range s.blocks {
		if b.MentorID == mentorID && interval.Overlaps(b.Interval(), window) {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b model.TimeBlock) int { return a.Start.Compare(b.Start) })
	return out, nil
}

func (s *Store) ListBusy(_ context.Context, mentorID string, from, to time.Time) ([]model.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return busyFrom(s.commitments, nil, mentorID, from, to), nil
}

func (s *Store) Get(_ context.Context, commitmentID string) (model.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.commitments[commitmentID]
	if !ok {
		return model.Commitment{}, errs.NotFound("commitment", commitmentID)
	}
	return c, nil
}

func (s *Store) ListByLearner(_ context.Context, learnerID string, from, to time.Time) ([]model.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	window := interval.Interval{Start: from, End: to}
	var out []model.Commitment
	for _, c := range s.commitments {
		if c.LearnerID == learnerID && interval.Overlaps(c.Interval(), window) {
			out = append(out, c)
		}
	}
	sortCommitments(out)
	return out, nil
}

// lockMentor returns the mentor's unlock func. Entries are reference counted and
// dropped once nobody holds or waits on them.
func (s *Store) lockMentor(mentorID string) func() {
	s.locksMu.Lock()
	m, ok := s.locks[mentorID]
	if !ok {
		m = &mentorMutex{}
		s.locks[mentorID] = m
	}
	m.refs++
	s.locksMu.Unlock()

	m.mu.Lock()
	return func() {
		m.mu.Unlock()
		s.locksMu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(s.locks, mentorID)
		}
		s.locksMu.Unlock()
	}
}

func (s *Store) Atomically(ctx context.Context, mentorID string, fn ledger.TxFunc) error {
	events, err := s.atomically(ctx, mentorID, fn)
	if err != nil {
		return err
	}
	s.handOff(ctx, events)
	return nil
}

func (s *Store) atomically(ctx context.Context, mentorID string, fn ledger.TxFunc) ([]outbox.Event, error) {
	unlock := s.lockMentor(mentorID)
	defer unlock()

	tx := &memTx{store: s, mentorID: mentorID, updated: map[string]model.Commitment{}}
	if err := fn(ctx, tx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.commit(tx); err != nil {
		return nil, err
	}
	return tx.events, nil
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Same guarantee as the exclusion constraint in PostgreSQL.
	next := make(map[string]model.Commitment, len(tx.inserted)+len(tx.updated))
	for _, c := range tx.inserted {
		if _, exists := s.commitments[c.ID]; exists {
			return fmt.Errorf("commitment %s already exists: %w", c.ID, errs.ErrConcurrency)
		}
		next[c.ID] = c
	}
	for id, c := range tx.updated {
		next[id] = c
	}
	for _, c := range next {
		if !c.Status.Occupies() {
			continue
		}
		for id, other := range s.commitments {
			if _, replaced := next[id]; replaced {
				continue
			}
			if other.MentorID == c.MentorID && other.Status.Occupies() && interval.Overlaps(c.Interval(), other.Interval()) {
				return fmt.Errorf("commitment overlaps %s: %w", id, errs.ErrConcurrency)
			}
		}
		for id, other := range next {
			if id != c.ID && other.MentorID == c.MentorID && other.Status.Occupies() && interval.Overlaps(c.Interval(), other.Interval()) {
				return fmt.Errorf("commitment overlaps %s: %w", id, errs.ErrConcurrency)
			}
		}
	}

	for id, c := range next {
		s.commitments[id] = c
	}
	return nil
}

type memTx struct {
	store    *Store
	mentorID string
	inserted []model.Commitment
	updated  map[string]model.Commitment
	events   []outbox.Event
}

func (t *memTx) pending() []model.Commitment {
	out := slices.Clone(t.inserted)
	for _, c := range t.updated {
		out = append(out, c)
	}
	return out
}

func (t *memTx) ListBusy(_ context.Context, mentorID string, from, to time.Time) ([]model.Commitment, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return busyFrom(t.store.commitments, t.pending(), mentorID, from, to), nil
}

func (t *memTx) Get(ctx context.Context, commitmentID string) (model.Commitment, error) {
	if c, ok := t.updated[commitmentID]; ok {
		return c, nil
	}
	for _, c := range t.inserted {
		if c.ID == commitmentID {
			return c, nil
		}
	}
	return t.store.Get(ctx, commitmentID)
}

func (t *memTx) ListGroup(ctx context.Context, groupID string) ([]model.Commitment, error) {
	t.store.mu.RLock()
	var out []model.Commitment
	for _, c := range t.store.commitments {
		if c.RecurrenceGroupID == groupID && c.MentorID == t.mentorID {
			if u, ok := t.updated[c.ID]; ok {
				c = u
			}
			out = append(out, c)
		}
	}
	t.store.mu.RUnlock()
	for _, c := range t.inserted {
		if c.RecurrenceGroupID == groupID {
			out = append(out, c)
		}
	}
	sortCommitments(out)
	return out, nil
}

func (t *memTx) Insert(_ context.Context, commitments []model.Commitment) error {
	for _, c := range commitments {
		if c.MentorID != t.mentorID {
			return errs.Invalid("mentor_id", "commitment belongs to a different mentor than the locked scope")
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		t.inserted = append(t.inserted, c)
	}
	return nil
}

func (t *memTx) SetStatus(ctx context.Context, commitmentID string, status model.Status, reason string, at time.Time) (model.Commitment, error) {
	c, err := t.Get(ctx, commitmentID)
	if err != nil {
		return model.Commitment{}, err
	}
	if c.MentorID != t.mentorID {
		return model.Commitment{}, errs.NotFound("commitment", commitmentID)
	}
	c.Status = status
	if status == model.StatusCancelled {
		cancelledAt := at.UTC()
		c.CancelledAt = &cancelledAt
		c.CancelReason = reason
	}
	t.updated[c.ID] = c
	return c, nil
}

func (t *memTx) Enqueue(_ context.Context, evt outbox.Event) error {
	t.events = append(t.events, evt)
	return nil
}

func busyFrom(committed map[string]model.Commitment, pending []model.Commitment, mentorID string, from, to time.Time) []model.Commitment {
	window := interval.Interval{Start: from, End: to}
	seen := make(map[string]struct{}, len(pending))
	var out []model.Commitment
	for _, c := range pending {
		seen[c.ID] = struct{}{}
		if c.MentorID == mentorID && c.Status.Occupies() && interval.Overlaps(c.Interval(), window) {
			out = append(out, c)
		}
	}
	for id, c := range committed {
		if _, shadowed := seen[id]; shadowed {
			continue
		}
		if c.MentorID == mentorID && c.Status.Occupies() && interval.Overlaps(c.Interval(), window) {
			out = append(out, c)
		}
	}
	sortCommitments(out)
	return out
}

func sortCommitments(in []model.Commitment) {
	slices.SortFunc(in, func(a, b model.Commitment) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return a.OccurrenceIndex - b.OccurrenceIndex
	})
}
