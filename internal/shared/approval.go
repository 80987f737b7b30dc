package shared

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
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
	// ApprovalClarify marks a request for clarification.
	ApprovalClarify ApprovalAction = "CLARIFY"
	// ApprovalResubmit marks a resubmission after clarification.
	ApprovalResubmit ApprovalAction = "RESUBMIT"
)

// Valid reports whether a is a known action.
func (a ApprovalAction) Valid() bool {
	switch a {
	case ApprovalSubmit, ApprovalApprove, ApprovalReject, ApprovalClarify, ApprovalResubmit:
		return true
	}
	return false
}

// ApprovalLog represents a single approval record.
type ApprovalLog struct {
	Module  string
	RefID   uuid.UUID
	ActorID int64
	Action  ApprovalAction
	Note    string
	At      time.Time
}

// ApprovalRecorder persists approval history.
type ApprovalRecorder struct {
	db     Execer
	logger *slog.Logger
	now    func() time.Time
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(db Execer, logger *slog.Logger) *ApprovalRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalRecorder{db: db, logger: logger, now: time.Now}
}

var errApprovalNotReady = errors.New("approval recorder not initialised")

// Record writes approval entry to database.
func (r *ApprovalRecorder) Record(ctx context.Context, log ApprovalLog) error {
	if r == nil || r.db == nil {
		return errApprovalNotReady
	}
	switch {
	case log.Module == "":
		return errors.New("approval module required")
	case log.ActorID <= 0:
		return errors.New("approval actor required")
	case log.RefID == uuid.Nil:
		return errors.New("approval ref id required")
	case !log.Action.Valid():
		return errors.New("approval action not recognised")
	}
	at := log.At
	if at.IsZero() {
		at = r.now()
	}
	_, err := r.db.Exec(ctx, `INSERT INTO approvals (module, ref_id, actor_id, action, note, at)
VALUES ($1, $2, $3, $4, $5, $6)`, log.Module, log.RefID, log.ActorID, string(log.Action), log.Note, at.UTC())
	if err != nil {
		r.logger.Error("record approval", slog.Any("error", err), slog.String("module", log.Module), slog.String("action", string(log.Action)))
		return err
	}
	return nil
}
