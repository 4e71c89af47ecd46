package attendance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/classlens/classlens/internal/database"
	"github.com/classlens/classlens/internal/match"
	"github.com/classlens/classlens/internal/notify"
	"github.com/classlens/classlens/internal/vision"
)

// Stage is a pipeline lifecycle state. A session run moves through the
// stages in order and ends in Completed or Failed.
type Stage string

const (
	StageCreated     Stage = "created"
	StageExtracting  Stage = "extracting"
	StageMatching    Stage = "matching"
	StageReconciling Stage = "reconciling"
	StageAggregating Stage = "aggregating"
	StageNotifying   Stage = "notifying"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
)

// Extractor detects faces and computes their embeddings.
type Extractor interface {
	DetectFaces(ctx context.Context, imageData []byte) ([]vision.Face, error)
	Embed(ctx context.Context, cropData []byte) ([]float32, error)
}

// Restorer enhances low-quality face crops before re-embedding.
type Restorer interface {
	Restore(ctx context.Context, cropData []byte) ([]byte, error)
}

// Notifier dispatches per-student attendance notifications.
type Notifier interface {
	Dispatch(ctx context.Context, subjectName string, classTime time.Time, results []notify.StudentResult) int
}

// Media persists annotated photos and returns public URLs.
type Media interface {
	SaveAnnotated(data []byte) (string, error)
}

// Summary is the result reported to the caller once a session run completes.
type Summary struct {
	NumFacesDetected   int      `json:"num_faces_detected"`
	PresentCount       int      `json:"present_count"`
	AbsentCount        int      `json:"absent_count"`
	SubjectName        string   `json:"subject_name"`
	AnnotatedImageURLs []string `json:"annotated_image_urls"`
}

// Options tunes a pipeline.
type Options struct {
	Threshold float64       // similarity threshold for matching
	Timeout   time.Duration // per-run deadline, 0 disables
}

// Pipeline orchestrates one session's attendance run. All collaborators are
// injected; the pipeline owns no global state and is safe for concurrent
// runs over different sessions.
type Pipeline struct {
	students   database.StudentStore
	sessions   database.SessionStore
	attendance database.AttendanceStore
	aggregator *Aggregator
	extractor  Extractor
	restorer   Restorer // nil disables the restoration stage
	notifier   Notifier
	media      Media // nil disables annotated image output
	opts       Options
	logger     *zap.Logger
}

// NewPipeline wires a pipeline from its collaborators.
func NewPipeline(
	students database.StudentStore,
	sessions database.SessionStore,
	attendance database.AttendanceStore,
	extractor Extractor,
	restorer Restorer,
	notifier Notifier,
	media Media,
	logger *zap.Logger,
	opts Options,
) *Pipeline {
	return &Pipeline{
		students:   students,
		sessions:   sessions,
		attendance: attendance,
		aggregator: NewAggregator(sessions, attendance),
		extractor:  extractor,
		restorer:   restorer,
		notifier:   notifier,
		media:      media,
		opts:       opts,
		logger:     logger,
	}
}

// Run processes one session's photo set end to end. onStage, when non-nil,
// observes every stage transition; the terminal stage is always Completed or
// Failed. On failure before the record commit, no attendance data is written.
func (p *Pipeline) Run(ctx context.Context, sessionID int64, photos [][]byte, onStage func(Stage)) (*Summary, error) {
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	report := func(s Stage) {
		if onStage != nil {
			onStage(s)
		}
	}

	fail := func(err error) (*Summary, error) {
		report(StageFailed)
		return nil, err
	}

	// Roster and session resolution failures are fatal for the run.
	session, err := p.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return fail(fmt.Errorf("resolve session %d: %w", sessionID, err))
	}
	subject, err := p.sessions.GetSubject(ctx, session.SubjectID)
	if err != nil {
		return fail(fmt.Errorf("resolve subject %d: %w", session.SubjectID, err))
	}
	roster, err := p.students.ListEnrolled(ctx, session.SubjectID)
	if err != nil {
		return fail(fmt.Errorf("resolve roster for subject %d: %w", session.SubjectID, err))
	}

	report(StageExtracting)
	faces, numDetected, annotatedURLs := p.extractPhotos(ctx, sessionID, photos)

	if err := p.sessions.SetPhotoCount(ctx, sessionID, len(photos)); err != nil {
		p.logger.Warn("failed to record photo count", zap.Int64("session_id", sessionID), zap.Error(err))
	}

	report(StageMatching)
	candidates := make([]match.Candidate, 0, len(roster))
	for _, student := range roster {
		if !student.HasEmbedding() {
			continue
		}
		candidates = append(candidates, match.Candidate{
			StudentID: student.ID,
			Name:      student.Name,
			Embedding: student.Embedding,
		})
	}
	assignments := match.Match(faces, candidates, p.opts.Threshold)

	report(StageReconciling)
	records := Reconcile(session, roster, assignments)
	if err := p.attendance.InsertRecords(ctx, records); err != nil {
		return fail(fmt.Errorf("insert records for session %d: %w", sessionID, err))
	}

	report(StageAggregating)
	if err := p.aggregator.RecordBatch(ctx, session.SubjectID, records); err != nil {
		return fail(fmt.Errorf("aggregate session %d: %w", sessionID, err))
	}

	report(StageNotifying)
	p.notifier.Dispatch(ctx, subject.Name, session.ClassTime, notifyResults(roster, records))

	report(StageCompleted)

	present := 0
	for _, rec := range records {
		if rec.Present {
			present++
		}
	}
	return &Summary{
		NumFacesDetected:   numDetected,
		PresentCount:       present,
		AbsentCount:        len(records) - present,
		SubjectName:        subject.Name,
		AnnotatedImageURLs: annotatedURLs,
	}, nil
}

// extractPhotos runs detection, optional restoration and embedding for every
// photo. Photo-level detection failures are skipped and logged; face-level
// embedding failures leave that face unmatched. Photos are processed
// sequentially in submission order so matching stays deterministic.
func (p *Pipeline) extractPhotos(ctx context.Context, sessionID int64, photos [][]byte) ([]match.FaceEmbedding, int, []string) {
	var faces []match.FaceEmbedding
	var annotatedURLs []string
	numDetected := 0

	for photoIdx, photo := range photos {
		detected, err := p.extractor.DetectFaces(ctx, photo)
		if err != nil {
			p.logger.Warn("face detection failed, skipping photo",
				zap.Int64("session_id", sessionID),
				zap.Int("photo", photoIdx),
				zap.Error(err))
			continue
		}
		numDetected += len(detected)

		var boxes [][]float64
		for _, face := range detected {
			boxes = append(boxes, face.BBox)

			crop := face.Crop
			if p.restorer != nil {
				restored, err := p.restorer.Restore(ctx, crop)
				if err != nil {
					p.logger.Debug("face restoration failed, using original crop",
						zap.Int64("session_id", sessionID),
						zap.Int("photo", photoIdx),
						zap.Int("face", face.Index),
						zap.Error(err))
				} else {
					crop = restored
				}
			}

			embedding, err := p.extractor.Embed(ctx, crop)
			if err != nil {
				p.logger.Warn("embedding failed, face stays unmatched",
					zap.Int64("session_id", sessionID),
					zap.Int("photo", photoIdx),
					zap.Int("face", face.Index),
					zap.Error(err))
				continue
			}

			faces = append(faces, match.FaceEmbedding{
				PhotoIndex: photoIdx,
				FaceIndex:  face.Index,
				Embedding:  embedding,
			})
		}

		if p.media != nil && len(detected) > 0 {
			annotated, err := vision.Annotate(photo, boxes)
			if err != nil {
				p.logger.Warn("annotation failed", zap.Int("photo", photoIdx), zap.Error(err))
				continue
			}
			url, err := p.media.SaveAnnotated(annotated)
			if err != nil {
				p.logger.Warn("saving annotated image failed", zap.Int("photo", photoIdx), zap.Error(err))
				continue
			}
			annotatedURLs = append(annotatedURLs, url)
		}
	}

	return faces, numDetected, annotatedURLs
}

// notifyResults pairs the roster with the reconciled statuses.
func notifyResults(roster []database.Student, records []database.AttendanceRecord) []notify.StudentResult {
	present := make(map[int64]bool, len(records))
	for _, rec := range records {
		present[rec.StudentID] = rec.Present
	}

	results := make([]notify.StudentResult, 0, len(roster))
	for _, student := range roster {
		results = append(results, notify.StudentResult{
			StudentID: student.ID,
			Name:      student.Name,
			Token:     student.NotificationToken,
			Present:   present[student.ID],
		})
	}
	return results
}

// FlipAttendance toggles the given students' records for a session and
// reapplies aggregation and notification for only those students. Each
// record flips together with its aggregate in one store transaction, so a
// mid-batch failure leaves no student half corrected.
func (p *Pipeline) FlipAttendance(ctx context.Context, sessionID int64, studentIDs []int64) ([]database.AttendancePercentage, error) {
	session, err := p.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("resolve session %d: %w", sessionID, err)
	}
	subject, err := p.sessions.GetSubject(ctx, session.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("resolve subject %d: %w", session.SubjectID, err)
	}

	var percentages []database.AttendancePercentage
	var results []notify.StudentResult

	for _, studentID := range studentIDs {
		nowPresent, percentage, err := p.aggregator.ApplyCorrection(ctx, sessionID, studentID, session.SubjectID)
		if err != nil {
			return percentages, fmt.Errorf("flip attendance for student %d: %w", studentID, err)
		}
		percentages = append(percentages, *percentage)

		student, err := p.students.GetStudent(ctx, studentID)
		if err != nil {
			p.logger.Warn("student lookup failed after correction",
				zap.Int64("student_id", studentID), zap.Error(err))
			continue
		}
		results = append(results, notify.StudentResult{
			StudentID: student.ID,
			Name:      student.Name,
			Token:     student.NotificationToken,
			Present:   nowPresent,
		})
	}

	p.notifier.Dispatch(ctx, subject.Name, session.ClassTime, results)
	return percentages, nil
}
