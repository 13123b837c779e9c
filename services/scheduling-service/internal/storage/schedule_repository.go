package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mentorslots/libs/db"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/model"
)

// ScheduleRepository is the PostgreSQL Weekly Rule Store and Exception Store.
type ScheduleRepository struct {
	pool *db.Pool
}

func NewScheduleRepository(pool *db.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

func (r *ScheduleRepository) GetSchedule(ctx context.Context, mentorID string) (model.Schedule, bool, error) {
	s := model.Schedule{MentorID: mentorID}
	err := r.pool.QueryRow(ctx, `
		SELECT timezone
		FROM mentor_schedules
		WHERE mentor_id = $1
	`, mentorID).Scan(&s.Timezone)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Schedule{}, false, nil
	}
	if err != nil {
		return model.Schedule{}, false, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT weekday, start_minute, end_minute
		FROM weekly_rules
		WHERE mentor_id = $1
		ORDER BY weekday ASC, start_minute ASC
	`, mentorID)
	if err != nil {
		return model.Schedule{}, false, err
	}
	defer rows.Close()

	for rows.Next() {
		rule := model.WeeklyRule{MentorID: mentorID}
		if err := rows.Scan(&rule.Weekday, &rule.StartMinute, &rule.EndMinute); err != nil {
			return model.Schedule{}, false, err
		}
		s.Rules = append(s.Rules, rule)
	}
	if rows.Err() != nil {
		return model.Schedule{}, false, rows.Err()
	}
	return s, true, nil
}

// ReplaceRules swaps the mentor's whole rule set and timezone in one transaction.
func (r *ScheduleRepository) ReplaceRules(ctx context.Context, mentorID, timezone string, rules []model.WeeklyRule) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if err := upsertTimezone(ctx, tx, mentorID, timezone); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM weekly_rules WHERE mentor_id = $1`, mentorID); err != nil {
			return err
		}
		for _, rule := range rules {
			if _, err := tx.Exec(ctx, `
				INSERT INTO weekly_rules (mentor_id, weekday, start_minute, end_minute)
				VALUES ($1, $2, $3, $4)
			`, mentorID, rule.Weekday, rule.StartMinute, rule.EndMinute); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *ScheduleRepository) SetTimezone(ctx context.Context, mentorID, timezone string) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		return upsertTimezone(ctx, tx, mentorID, timezone)
	})
}

func upsertTimezone(ctx context.Context, tx pgx.Tx, mentorID, timezone string) error {
	if timezone == "" {
		timezone = "UTC"
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO mentor_schedules (mentor_id, timezone)
		VALUES ($1, $2)
		ON CONFLICT (mentor_id) DO UPDATE
		SET timezone = EXCLUDED.timezone,
			updated_at = now()
	`, mentorID, timezone)
	return err
}

func (r *ScheduleRepository) CreateBlock(ctx context.Context, b model.TimeBlock) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO time_blocks (id, mentor_id, start_time, end_time, reason)
		VALUES ($1, $2, $3, $4, $5)
	`, id, b.MentorID, b.Start.UTC(), b.End.UTC(), b.Reason)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *ScheduleRepository) DeleteBlock(ctx context.Context, blockID string) error {
	if err := uuid.Validate(blockID); err != nil {
		return classify(pgx.ErrNoRows, "time block", blockID)
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM time_blocks WHERE id = $1`, blockID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return classify(pgx.ErrNoRows, "time block", blockID)
	}
	return nil
}

func (r *ScheduleRepository) ListBlocks(ctx context.Context, mentorID string, from, to time.Time) ([]model.TimeBlock, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, mentor_id, start_time, end_time, reason, created_at
		FROM time_blocks
		WHERE mentor_id = $1
			AND end_time > $2
			AND start_time < $3
		ORDER BY start_time ASC
	`, mentorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TimeBlock
	for rows.Next() {
		var b model.TimeBlock
		if err := rows.Scan(&b.ID, &b.MentorID, &b.Start, &b.End, &b.Reason, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Start = b.Start.UTC()
		b.End = b.End.UTC()
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
