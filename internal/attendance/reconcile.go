// Package attendance implements the session attendance pipeline: face
// extraction, embedding matching, record reconciliation, percentage
// aggregation and notification dispatch.
package attendance

import (
	"github.com/classlens/classlens/internal/database"
	"github.com/classlens/classlens/internal/match"
)

// Reconcile converts match assignments plus the full enrollment roster into
// a complete record set for the session: exactly one record per enrolled
// student, present iff a face claimed them. Records carry the session's
// class time, not processing time.
func Reconcile(session *database.ClassSession, roster []database.Student, assignments []match.Assignment) []database.AttendanceRecord {
	matched := make(map[int64]bool, len(assignments))
	for _, a := range assignments {
		matched[a.StudentID] = true
	}

	records := make([]database.AttendanceRecord, 0, len(roster))
	for _, student := range roster {
		records = append(records, database.AttendanceRecord{
			SessionID: session.ID,
			StudentID: student.ID,
			Present:   matched[student.ID],
			MarkedAt:  session.ClassTime,
		})
	}
	return records
}
