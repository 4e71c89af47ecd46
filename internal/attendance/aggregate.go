package attendance

import (
	"context"
	"fmt"

	"github.com/classlens/classlens/internal/database"
)

// Aggregator maintains the per-(student, subject) running percentages.
// The total session count is recomputed on every update, so percentages for
// earlier sessions shift as later sessions are created: a percentage always
// means "present count over sessions held so far".
type Aggregator struct {
	sessions   database.SessionStore
	attendance database.AttendanceStore
}

// NewAggregator creates an aggregator over the given stores.
func NewAggregator(sessions database.SessionStore, attendance database.AttendanceStore) *Aggregator {
	return &Aggregator{sessions: sessions, attendance: attendance}
}

// RecordBatch applies a freshly reconciled record set to the aggregates.
// Present records increment the count; absent records still touch the row so
// the percentage is recomputed against the new session total.
func (a *Aggregator) RecordBatch(ctx context.Context, subjectID int64, records []database.AttendanceRecord) error {
	total, err := a.sessions.CountSessionsForSubject(ctx, subjectID)
	if err != nil {
		return fmt.Errorf("count sessions: %w", err)
	}

	for _, rec := range records {
		delta := 0
		if rec.Present {
			delta = 1
		}
		if _, err := a.attendance.ApplyPresence(ctx, rec.StudentID, subjectID, delta, total); err != nil {
			return fmt.Errorf("apply presence: %w", err)
		}
	}
	return nil
}

// ApplyCorrection flips a student's record for a session and moves the
// aggregate by plus or minus one in one store transaction. Returns the
// record's status after the flip and the updated aggregate; on error the
// record is untouched.
func (a *Aggregator) ApplyCorrection(ctx context.Context, sessionID, studentID, subjectID int64) (bool, *database.AttendancePercentage, error) {
	total, err := a.sessions.CountSessionsForSubject(ctx, subjectID)
	if err != nil {
		return false, nil, fmt.Errorf("count sessions: %w", err)
	}

	nowPresent, p, err := a.attendance.FlipAndApply(ctx, sessionID, studentID, subjectID, total)
	if err != nil {
		return false, nil, fmt.Errorf("apply correction: %w", err)
	}
	return nowPresent, p, nil
}
