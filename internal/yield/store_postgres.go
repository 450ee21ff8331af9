package yield

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-n-ai/pai-portal/internal/curriculum"
)

const dbTimeout = 5 * time.Second

// PostgresStore is a PostgreSQL-backed AverageStore.
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

func (s *PostgresStore) SaveSemesterAverage(ctx context.Context, userID string, key curriculum.SemesterKey, avg float64) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if userID == "" {
		return fmt.Errorf("user_id is required")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO semester_averages (user_id, semester_key, average, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (user_id, semester_key)
		 DO UPDATE SET average = EXCLUDED.average, updated_at = EXCLUDED.updated_at`,
		userID,
		key.String(),
		avg,
	)
	if err != nil {
		return fmt.Errorf("save semester average: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSemesterAverage(ctx context.Context, userID string, key curriculum.SemesterKey) (Average, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	a := Average{UserID: userID, Semester: key}
	err := s.pool.QueryRow(ctx,
		`SELECT average, updated_at
		 FROM semester_averages
		 WHERE user_id = $1 AND semester_key = $2`,
		userID,
		key.String(),
	).Scan(&a.Average, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Average{}, fmt.Errorf("%w: %s %s", ErrNotFound, userID, key)
		}
		return Average{}, fmt.Errorf("get semester average: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListSemesterAverages(ctx context.Context, userID string) ([]Average, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT semester_key, average, updated_at
		 FROM semester_averages
		 WHERE user_id = $1
		 ORDER BY semester_key ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query semester averages: %w", err)
	}
	defer rows.Close()

	var out []Average
	for rows.Next() {
		var rawKey string
		a := Average{UserID: userID}
		if err := rows.Scan(&rawKey, &a.Average, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan semester average: %w", err)
		}
		key, err := curriculum.ParseSemesterKey(rawKey)
		if err != nil {
			return nil, fmt.Errorf("stored semester key: %w", err)
		}
		a.Semester = key
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate semester averages: %w", err)
	}
	return out, nil
}
