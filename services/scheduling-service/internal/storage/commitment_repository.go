package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mentorslots/libs/db"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/ledger"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/outbox"
)

const commitmentColumns = `
	id::text, mentor_id, learner_id, start_time, end_time, duration_minutes, status,
	COALESCE(recurrence_group_id::text, ''), frequency, occurrence_index, created_at,
	cancelled_at, COALESCE(cancel_reason, '')`

// CommitmentRepository is the PostgreSQL Commitment Ledger.
type CommitmentRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

var _ ledger.Ledger = (*CommitmentRepository)(nil)

func NewCommitmentRepository(pool *db.Pool, outboxRepo *outbox.Repository) *CommitmentRepository {
	return &CommitmentRepository{pool: pool, outbox: outboxRepo}
}

func (r *CommitmentRepository) ListBusy(ctx context.Context, mentorID string, from, to time.Time) ([]model.Commitment, error) {
	return listBusy(ctx, r.pool, mentorID, from, to)
}

func (r *CommitmentRepository) Get(ctx context.Context, commitmentID string) (model.Commitment, error) {
	if uuid.Validate(commitmentID) != nil {
		return model.Commitment{}, classify(pgx.ErrNoRows, "commitment", commitmentID)
	}
	c, err := scanCommitment(r.pool.QueryRow(ctx, `
		SELECT `+commitmentColumns+`
		FROM commitments
		WHERE id = $1
	`, commitmentID))
	return c, classify(err, "commitment", commitmentID)
}

func (r *CommitmentRepository) ListByLearner(ctx context.Context, learnerID string, from, to time.Time) ([]model.Commitment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+commitmentColumns+`
		FROM commitments
		WHERE learner_id = $1
			AND end_time > $2
			AND start_time < $3
		ORDER BY start_time ASC, occurrence_index ASC
	`, learnerID, from, to)
	if err != nil {
		return nil, err
	}
	return collectCommitments(rows)
}

// Atomically serializes writers per mentor with a transaction-scoped advisory lock.
// The exclusion constraint on commitments backs the same invariant.
func (r *CommitmentRepository) Atomically(ctx context.Context, mentorID string, fn ledger.TxFunc) error {
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, mentorID); err != nil {
			return err
		}
		return fn(ctx, &commitmentTx{tx: tx, mentorID: mentorID, outbox: r.outbox})
	})
	return classify(err, "mentor", mentorID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listBusy(ctx context.Context, q querier, mentorID string, from, to time.Time) ([]model.Commitment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+commitmentColumns+`
		FROM commitments
		WHERE mentor_id = $1
			AND status IN ('PENDING', 'CONFIRMED')
			AND end_time > $2
			AND start_time < $3
		ORDER BY start_time ASC
	`, mentorID, from, to)
	if err != nil {
		return nil, err
	}
	return collectCommitments(rows)
}

type commitmentTx struct {
	tx       pgx.Tx
	mentorID string
	outbox   *outbox.Repository
}

func (t *commitmentTx) ListBusy(ctx context.Context, mentorID string, from, to time.Time) ([]model.Commitment, error) {
	return listBusy(ctx, t.tx, mentorID, from, to)
}

func (t *commitmentTx) Get(ctx context.Context, commitmentID string) (model.Commitment, error) {
	if uuid.Validate(commitmentID) != nil {
		return model.Commitment{}, classify(pgx.ErrNoRows, "commitment", commitmentID)
	}
	c, err := scanCommitment(t.tx.QueryRow(ctx, `
		SELECT `+commitmentColumns+`
		FROM commitments
		WHERE id = $1 AND mentor_id = $2
		FOR UPDATE
	`, commitmentID, t.mentorID))
	return c, classify(err, "commitment", commitmentID)
}

func (t *commitmentTx) ListGroup(ctx context.Context, groupID string) ([]model.Commitment, error) {
	if uuid.Validate(groupID) != nil {
		return nil, nil
	}
	rows, err := t.tx.Query(ctx, `
		SELECT `+commitmentColumns+`
		FROM commitments
		WHERE recurrence_group_id = $1 AND mentor_id = $2
		ORDER BY start_time ASC, occurrence_index ASC
		FOR UPDATE
	`, groupID, t.mentorID)
	if err != nil {
		return nil, err
	}
	return collectCommitments(rows)
}

func (t *commitmentTx) Insert(ctx context.Context, commitments []model.Commitment) error {
	for _, c := range commitments {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO commitments
				(id, mentor_id, learner_id, start_time, end_time, duration_minutes, status,
				 recurrence_group_id, frequency, occurrence_index, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, c.ID, c.MentorID, c.LearnerID, c.Start.UTC(), c.End.UTC(), c.DurationMinutes, string(c.Status),
			nullable(c.RecurrenceGroupID), string(c.Frequency), c.OccurrenceIndex, c.CreatedAt.UTC())
		if err != nil {
			return classify(err, "commitment", c.ID)
		}
	}
	return nil
}

func (t *commitmentTx) SetStatus(ctx context.Context, commitmentID string, status model.Status, reason string, at time.Time) (model.Commitment, error) {
	if uuid.Validate(commitmentID) != nil {
		return model.Commitment{}, classify(pgx.ErrNoRows, "commitment", commitmentID)
	}
	c, err := scanCommitment(t.tx.QueryRow(ctx, `
		UPDATE commitments
		SET status = $3,
			cancelled_at = CASE WHEN $3 = 'CANCELLED' THEN $4 ELSE cancelled_at END,
			cancel_reason = CASE WHEN $3 = 'CANCELLED' THEN $5 ELSE cancel_reason END
		WHERE id = $1 AND mentor_id = $2
		RETURNING `+commitmentColumns,
		commitmentID, t.mentorID, string(status), at.UTC(), reason))
	return c, classify(err, "commitment", commitmentID)
}

func (t *commitmentTx) Enqueue(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

func scanCommitment(row pgx.Row) (model.Commitment, error) {
	var c model.Commitment
	var status, frequency string
	var cancelledAt *time.Time
	err := row.Scan(
		&c.ID,
		&c.MentorID,
		&c.LearnerID,
		&c.Start,
		&c.End,
		&c.DurationMinutes,
		&status,
		&c.RecurrenceGroupID,
		&frequency,
		&c.OccurrenceIndex,
		&c.CreatedAt,
		&cancelledAt,
		&c.CancelReason,
	)
	if err != nil {
		return model.Commitment{}, err
	}
	c.Status = model.Status(status)
	c.Frequency = model.Frequency(frequency)
	c.Start = c.Start.UTC()
	c.End = c.End.UTC()
	if cancelledAt != nil {
		utc := cancelledAt.UTC()
		c.CancelledAt = &utc
	}
	return c, nil
}

func collectCommitments(rows pgx.Rows) ([]model.Commitment, error) {
	defer rows.Close()
	var out []model.Commitment
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
