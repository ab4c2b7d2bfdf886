package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"degasline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// DefaultRecentLimit is the number of batches loaded when no limit is given.
const DefaultRecentLimit = 10

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r Repo) q(tx *sql.Tx) queryer {
	if tx != nil {
		return tx
	}
	return r.DB
}

const batchColumns = `id,COALESCE(label,''),roast_date,process,COALESCE(variety,''),created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (domain.Batch, error) {
	var b domain.Batch
	var roast string
	if err := row.Scan(&b.ID, &b.Label, &roast, &b.Process, &b.Variety, &b.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, ErrNotFound
		}
		return b, err
	}
	t, err := domain.ParseDate(roast)
	if err != nil {
		return b, fmt.Errorf("batch %s: %w", b.ID, err)
	}
	b.RoastDate = t
	return b, nil
}

// InsertBatch stores a batch. The roast date is persisted as a calendar day.
func (r Repo) InsertBatch(ctx context.Context, tx *sql.Tx, b domain.Batch) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO batches(id,label,roast_date,process,variety,created_at) VALUES (?,?,?,?,?,?)`,
		b.ID, nullable(b.Label), domain.FormatDate(b.RoastDate), b.Process, nullable(b.Variety), b.CreatedAt)
	return err
}

func (r Repo) GetBatch(ctx context.Context, id string) (domain.Batch, error) {
	return r.GetBatchTx(ctx, nil, id)
}

func (r Repo) GetBatchTx(ctx context.Context, tx *sql.Tx, id string) (domain.Batch, error) {
	return scanBatch(r.q(tx).QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id=?`, id))
}

// BatchExists reports whether a batch with the id is stored.
func (r Repo) BatchExists(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var n int
	if err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM batches WHERE id=?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecentBatches returns the most recently roasted batches, newest first.
func (r Repo) RecentBatches(ctx context.Context, limit int) ([]domain.Batch, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+batchColumns+` FROM batches ORDER BY roast_date DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
