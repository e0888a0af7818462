package shared

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ApprovalAction enumerates approval log actions.
type ApprovalAction string

const (
	// ApprovalSubmit marks a submit action.
	ApprovalSubmit ApprovalAction = "SUBMIT"
	// ApprovalApprove marks an approve action.
	ApprovalApprove ApprovalAction = "APPROVE"
	// ApprovalReject marks a reject action.
	ApprovalReject ApprovalAction = "REJECT"
	// ApprovalSend marks dispatch of a document to the customer.
	ApprovalSend ApprovalAction = "SEND"
	// ApprovalAccept marks customer acceptance.
	ApprovalAccept ApprovalAction = "ACCEPT"
	// ApprovalSupersede marks a parent document replaced by an approved revision.
	ApprovalSupersede ApprovalAction = "SUPERSEDE"
)

// ApprovalLog represents a single approval record.
type ApprovalLog struct {
	ID     int64
	Module string
	RefID  int64
	Actor  string
	Action ApprovalAction
	Note   string
	At     time.Time
}

// ApprovalRecorder persists the immutable approval trail for quotations and PIs.
type ApprovalRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(pool *pgxpool.Pool, logger *slog.Logger) *ApprovalRecorder {
	return &ApprovalRecorder{pool: pool, logger: logger}
}

// Record writes an approval entry to the database.
func (r *ApprovalRecorder) Record(ctx context.Context, log ApprovalLog) error {
	if r == nil {
		return errors.New("approval recorder not initialised")
	}
	if log.Module == "" {
		return errors.New("approval module required")
	}
	if log.Actor == "" {
		return errors.New("approval actor required")
	}
	if log.RefID == 0 {
		return errors.New("approval ref id required")
	}
	if log.Action == "" {
		return errors.New("approval action required")
	}
	var at any
	if !log.At.IsZero() {
		at = log.At
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO approvals (module, ref_id, actor, action, note, at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.Module, log.RefID, log.Actor, string(log.Action), log.Note, at)
	if err != nil {
		r.logger.Error("record approval", slog.Any("error", err))
		return err
	}
	return nil
}

// List returns approvals for module/ref in chronological order.
func (r *ApprovalRecorder) List(ctx context.Context, module string, refID int64) ([]ApprovalLog, error) {
	if r == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, module, ref_id, actor, action, note, at
FROM approvals WHERE module=$1 AND ref_id=$2 ORDER BY at ASC, id ASC`, module, refID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []ApprovalLog
	for rows.Next() {
		var l ApprovalLog
		var action string
		if err := rows.Scan(&l.ID, &l.Module, &l.RefID, &l.Actor, &action, &l.Note, &l.At); err != nil {
			return nil, err
		}
		l.Action = ApprovalAction(action)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}
