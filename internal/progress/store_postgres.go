package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// PostgresStore keeps progress in the subject_progress table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store on an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, p Progress) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO subject_progress (user_id, subject_id, completed, total, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, subject_id)
		 DO UPDATE SET completed = EXCLUDED.completed,
		               total = EXCLUDED.total,
		               updated_at = EXCLUDED.updated_at`,
		p.UserID,
		p.SubjectID,
		p.Completed,
		p.Total,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID, subjectID string) (Progress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	p := Progress{UserID: userID, SubjectID: subjectID}
	err := s.pool.QueryRow(ctx,
		`SELECT completed, total, updated_at
		 FROM subject_progress
		 WHERE user_id = $1 AND subject_id = $2`,
		userID,
		subjectID,
	).Scan(&p.Completed, &p.Total, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Progress{}, fmt.Errorf("%w: %s", ErrNotFound, subjectID)
		}
		return Progress{}, fmt.Errorf("get progress: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) List(ctx context.Context, userID string) ([]Progress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT subject_id, completed, total, updated_at
		 FROM subject_progress
		 WHERE user_id = $1
		 ORDER BY subject_id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Progress, error) {
		p := Progress{UserID: userID}
		err := row.Scan(&p.SubjectID, &p.Completed, &p.Total, &p.UpdatedAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan progress: %w", err)
	}
	return out, nil
}
