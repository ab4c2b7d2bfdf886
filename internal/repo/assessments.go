package repo

import (
	"context"
	"database/sql"
	"errors"

	"degasline/internal/domain"
)

func (r Repo) InsertAssessment(ctx context.Context, tx *sql.Tx, a domain.Assessment) error {
	if a.ID == "" {
		return errors.New("id required")
	}
	if len(a.Result) == 0 {
		return errors.New("result required")
	}
	blocked := 0
	if a.Blocked {
		blocked = 1
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO assessments(id,batch_id,model,risk_level,blocked,ready_date,result_json,actor_id,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.BatchID, a.Model, string(a.RiskLevel), blocked, a.ReadyDate, string(a.Result), a.ActorID, a.CreatedAt)
	return err
}

// ListAssessments returns the assessments of a batch, newest first.
func (r Repo) ListAssessments(ctx context.Context, batchID string, limit int) ([]domain.Assessment, error) {
	query := `SELECT id,batch_id,model,risk_level,blocked,ready_date,result_json,actor_id,created_at FROM assessments WHERE batch_id=? ORDER BY created_at DESC, rowid DESC`
	args := []any{batchID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assessment
	for rows.Next() {
		var a domain.Assessment
		var risk, result string
		var blocked int
		if err := rows.Scan(&a.ID, &a.BatchID, &a.Model, &risk, &blocked, &a.ReadyDate, &result, &a.ActorID, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.RiskLevel = domain.RiskLevel(risk)
		a.Blocked = blocked != 0
		a.Result = []byte(result)
		res = append(res, a)
	}
	return res, rows.Err()
}
