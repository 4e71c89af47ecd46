package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Sender sends a single notification. Implemented by PushClient; tests use
// fakes.
type Sender interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) error
}

// StudentResult is one student's attendance outcome to notify about.
type StudentResult struct {
	StudentID int64
	Name      string
	Token     string // empty means no registered destination, skip
	Present   bool
}

// Dispatcher sends one notification per student with a registered
// destination. Each send is independent: a failed send is logged and does not
// abort the rest of the batch. No retries.
type Dispatcher struct {
	sender Sender
	title  string
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher. sender may be nil, which disables
// delivery entirely (useful when no gateway is configured).
func NewDispatcher(sender Sender, title string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{sender: sender, title: title, logger: logger}
}

// Dispatch sends attendance notifications for one session and returns the
// number of successful sends.
func (d *Dispatcher) Dispatch(ctx context.Context, subjectName string, classTime time.Time, results []StudentResult) int {
	if d.sender == nil {
		return 0
	}

	sent := 0
	for _, res := range results {
		if res.Token == "" {
			continue
		}

		status := "absent"
		if res.Present {
			status = "present"
		}
		body := fmt.Sprintf("You were marked %s for %s on %s.", status, subjectName, classTime.Format("Jan 2, 2006 15:04"))
		data := map[string]string{
			"subject":      subjectName,
			"session_time": classTime.Format(time.RFC3339),
			"status":       status,
		}

		if err := d.sender.Send(ctx, res.Token, d.title, body, data); err != nil {
			d.logger.Warn("notification send failed",
				zap.Int64("student_id", res.StudentID),
				zap.String("subject", subjectName),
				zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}
