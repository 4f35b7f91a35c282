package exam

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/identity"
	"github.com/trezcool/mtihani/core/policy"
	"github.com/trezcool/mtihani/core/scoring"
)

var (
	// errors
	ErrExamNotFound       = core.NewNotFoundError("exam")
	ErrSubmissionNotFound = core.NewNotFoundError("submission")
	ErrSubmissionClosed   = errors.New("submission has already been submitted")
	ErrAnswerNotFound     = errors.New("answer does not belong to this submission")
	ErrAlreadySubmitted   = errors.New("this exam has already been submitted")
)

type (
	// Repository persists exams and their submissions. Writes are conditional so that
	// concurrent requests cannot move a submission backwards through its lifecycle.
	Repository interface {
		// CreateExam inserts the exam and its questions in one transaction.
		CreateExam(ctx context.Context, e Exam) (Exam, error)
		// GetExam returns the exam with its questions ordered by position.
		GetExam(ctx context.Context, id string) (Exam, error)
		// PublishResults sets results_published; it never unsets it. published is false when
		// the exam was already published.
		PublishResults(ctx context.Context, examID string, at time.Time) (e Exam, published bool, err error)

		// CreateSubmission inserts sub or, on (exam, student) conflict, returns the existing row
		// with created=false.
		CreateSubmission(ctx context.Context, sub Submission) (s Submission, created bool, err error)
		GetSubmission(ctx context.Context, id string) (Submission, error)
		ListAnswers(ctx context.Context, submissionID string) ([]Answer, error)
		// SaveAnswers upserts answers by (submission, question) while the submission is in
		// progress; otherwise it returns ErrSubmissionClosed and writes nothing.
		SaveAnswers(ctx context.Context, submissionID string, answers []Answer) error
		// MarkSubmitted inserts blanks, fixes max_score and sets submitted_at, only while the
		// submission is in progress; otherwise it returns ErrSubmissionClosed.
		MarkSubmitted(ctx context.Context, submissionID string, at time.Time, maxScore float64, blanks []Answer) (Submission, error)
		// ApplyGrades writes every grade, recomputes total_score from all answers and sets
		// is_graded in one transaction. Any failed write rolls back the whole pass.
		ApplyGrades(ctx context.Context, submissionID string, grades []AnswerGrade, gradedBy string, at time.Time) (Submission, error)
		ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]Submission, error)
		// ListStudentResults returns the student's submitted attempts, newest first.
		ListStudentResults(ctx context.Context, studentID string) ([]StudentResult, error)
	}

	// ProfileFinder looks up student profiles for report cards and notifications.
	ProfileFinder interface {
		GetProfile(ctx context.Context, userID string) (identity.Profile, error)
	}

	Service struct {
		repo     Repository
		profiles ProfileFinder
		mailSvc  core.EmailService
		logger   core.Logger
		appName  string
		now      func() time.Time
	}
)

func NewService(repo Repository, profiles ProfileFinder, mailSvc core.EmailService, logger core.Logger, conf *core.Config) *Service {
	return &Service{
		repo:     repo,
		profiles: profiles,
		mailSvc:  mailSvc,
		logger:   logger,
		appName:  conf.AppName,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// elevated reports whether p may read and grade any student's submission.
func elevated(p policy.Principal) bool {
	return policy.Authorize(p, policy.ActionGrade, policy.Submission("")) == policy.Allow
}

// Exams

func (svc *Service) CreateExam(ctx context.Context, p policy.Principal, ne NewExam) (Exam, error) {
	if err := policy.Require(p, policy.ActionManageCatalog, policy.Catalog()); err != nil {
		return Exam{}, err
	}

	e := Exam{
		Title:     ne.Title,
		Subject:   ne.Subject,
		Type:      ne.Type,
		ClassRef:  ne.ClassRef,
		CreatedBy: p.UserID,
		CreatedAt: svc.now(),
		Questions: make([]Question, 0, len(ne.Questions)),
	}
	for i, nq := range ne.Questions {
		e.MaxScore += nq.Marks
		e.Questions = append(e.Questions, Question{
			Position:      i + 1,
			Text:          nq.Text,
			Kind:          nq.Kind,
			Options:       nq.Options,
			CorrectAnswer: null.NewString(nq.CorrectAnswer, nq.CorrectAnswer != ""),
			Marks:         nq.Marks,
		})
	}
	e, err := svc.repo.CreateExam(ctx, e)
	if err != nil {
		return Exam{}, errors.Wrap(err, "creating exam")
	}
	svc.logger.Info(fmt.Sprintf("exam %s created by %s", e.ID, p.UserID))
	return e, nil
}

// GetExam returns the exam; correct answers are only included for elevated principals.
func (svc *Service) GetExam(ctx context.Context, p policy.Principal, id string) (Exam, error) {
	if err := policy.Require(p, policy.ActionRead, policy.Exam()); err != nil {
		return Exam{}, err
	}
	e, err := svc.repo.GetExam(ctx, id)
	if err != nil {
		return Exam{}, errors.Wrap(err, "finding exam")
	}
	if !elevated(p) {
		for i := range e.Questions {
			e.Questions[i].CorrectAnswer = null.String{}
		}
	}
	return e, nil
}

// PublishResults opens the publish gate of an exam and emails every student with a graded
// submission. Publishing an already published exam is a no-op.
func (svc *Service) PublishResults(ctx context.Context, p policy.Principal, examID string) (Exam, error) {
	if err := policy.Require(p, policy.ActionPublish, policy.Exam()); err != nil {
		return Exam{}, err
	}
	e, published, err := svc.repo.PublishResults(ctx, examID, svc.now())
	if err != nil {
		return Exam{}, errors.Wrap(err, "publishing results")
	}
	if published {
		svc.logger.Info(fmt.Sprintf("results of exam %s published by %s", e.ID, p.UserID))
		svc.notifyPublished(ctx, e)
	}
	return e, nil
}

func (svc *Service) notifyPublished(ctx context.Context, e Exam) {
	subs, err := svc.repo.ListSubmissions(ctx, SubmissionFilter{ExamID: e.ID, GradedOnly: true})
	if err != nil {
		svc.logger.Error(fmt.Sprintf("listing graded submissions of exam %s", e.ID), err)
		return
	}

	messages := make([]*core.EmailMessage, 0, len(subs))
	for _, sub := range subs {
		prof, err := svc.profiles.GetProfile(ctx, sub.StudentID)
		if err != nil {
			svc.logger.Warn(fmt.Sprintf("finding profile of %s", sub.StudentID), err)
			continue
		}
		if prof.Email == "" {
			continue
		}
		messages = append(messages, &core.EmailMessage{
			To:           []mail.Address{{Name: prof.DisplayName, Address: prof.Email}},
			Subject:      "Results published: " + e.Title,
			TextTemplate: resultsPublishedText,
			HTMLTemplate: resultsPublishedHTML,
			TemplateData: map[string]interface{}{
				"AppName":      svc.appName,
				"Name":         prof.DisplayName,
				"Exam":         e.Summary(),
				"SubmissionID": sub.ID,
			},
		})
	}
	if len(messages) > 0 {
		svc.mailSvc.SendMessages(messages...)
	}
}

// Attempts

// StartAttempt opens the principal's attempt at an exam, or returns the one in progress.
func (svc *Service) StartAttempt(ctx context.Context, p policy.Principal, examID string) (SubmissionDetail, error) {
	if err := policy.Require(p, policy.ActionRead, policy.Exam()); err != nil {
		return SubmissionDetail{}, err
	}
	if err := policy.Require(p, policy.ActionAttempt, policy.Submission(p.UserID)); err != nil {
		return SubmissionDetail{}, err
	}

	e, err := svc.repo.GetExam(ctx, examID)
	if err != nil {
		return SubmissionDetail{}, errors.Wrap(err, "finding exam")
	}
	sub, _, err := svc.repo.CreateSubmission(ctx, Submission{
		ExamID:    e.ID,
		StudentID: p.UserID,
		StartedAt: svc.now(),
	})
	if err != nil {
		return SubmissionDetail{}, errors.Wrap(err, "creating submission")
	}
	if sub.Submitted() {
		return SubmissionDetail{}, core.NewValidationError(ErrAlreadySubmitted)
	}
	return svc.detail(ctx, p, sub, e)
}

// SaveAnswers stores in-progress answers. Only the owner may save, and only before submitting.
func (svc *Service) SaveAnswers(ctx context.Context, p policy.Principal, submissionID string, inputs []AnswerInput) (SubmissionDetail, error) {
	sub, err := svc.ownSubmission(ctx, p, submissionID)
	if err != nil {
		return SubmissionDetail{}, err
	}
	if sub.Submitted() {
		return SubmissionDetail{}, core.NewValidationError(ErrSubmissionClosed)
	}
	e, err := svc.repo.GetExam(ctx, sub.ExamID)
	if err != nil {
		return SubmissionDetail{}, errors.Wrap(err, "finding exam")
	}

	now := svc.now()
	answers := make([]Answer, 0, len(inputs))
	for i, in := range inputs {
		if _, ok := e.Question(in.QuestionID); !ok {
			return SubmissionDetail{}, core.NewValidationError(nil, core.FieldError{
				Field: fmt.Sprintf("answers[%d].question_id", i),
				Error: "unknown question",
			})
		}
		answers = append(answers, Answer{
			SubmissionID: sub.ID,
			QuestionID:   in.QuestionID,
			AnswerText:   in.AnswerText,
			UpdatedAt:    now,
		})
	}
	if err = svc.repo.SaveAnswers(ctx, sub.ID, answers); err != nil {
		if errors.Cause(err) == ErrSubmissionClosed {
			return SubmissionDetail{}, core.NewValidationError(ErrSubmissionClosed)
		}
		return SubmissionDetail{}, errors.Wrap(err, "saving answers")
	}
	return svc.detail(ctx, p, sub, e)
}

// Submit freezes the owner's answers. Questions left unanswered get a blank answer so that
// max_score covers the whole exam. Submitting twice returns the submitted attempt.
func (svc *Service) Submit(ctx context.Context, p policy.Principal, submissionID string) (SubmissionDetail, error) {
	sub, err := svc.ownSubmission(ctx, p, submissionID)
	if err != nil {
		return SubmissionDetail{}, err
	}
	e, err := svc.repo.GetExam(ctx, sub.ExamID)
	if err != nil {
		return SubmissionDetail{}, errors.Wrap(err, "finding exam")
	}
	if sub.Submitted() {
		return svc.detail(ctx, p, sub, e)
	}

	answers, err := svc.repo.ListAnswers(ctx, sub.ID)
	if err != nil {
		return SubmissionDetail{}, errors.Wrap(err, "listing answers")
	}
	answered := make(map[string]bool, len(answers))
	for _, a := range answers {
		answered[a.QuestionID] = true
	}

	now := svc.now()
	var (
		maxScore float64
		blanks   []Answer
	)
	for _, q := range e.Questions {
		maxScore += q.Marks
		if !answered[q.ID] {
			blanks = append(blanks, Answer{SubmissionID: sub.ID, QuestionID: q.ID, UpdatedAt: now})
		}
	}

	sub, err = svc.repo.MarkSubmitted(ctx, sub.ID, now, maxScore, blanks)
	if err != nil {
		if errors.Cause(err) != ErrSubmissionClosed {
			return SubmissionDetail{}, errors.Wrap(err, "marking submitted")
		}
		// submitted concurrently
		if sub, err = svc.repo.GetSubmission(ctx, submissionID); err != nil {
			return SubmissionDetail{}, errors.Wrap(err, "finding submission")
		}
	}
	return svc.detail(ctx, p, sub, e)
}

// ownSubmission returns the principal's own submission. Missing and foreign submissions yield
// the same AuthorizationError.
func (svc *Service) ownSubmission(ctx context.Context, p policy.Principal, id string) (Submission, error) {
	sub, err := svc.repo.GetSubmission(ctx, id)
	if err != nil {
		if core.IsNotFound(err) {
			return Submission{}, core.NewAuthorizationError(string(policy.ActionAttempt))
		}
		return Submission{}, errors.Wrap(err, "finding submission")
	}
	if err = policy.Require(p, policy.ActionAttempt, policy.Submission(sub.StudentID)); err != nil {
		return Submission{}, err
	}
	return sub, nil
}

// Grading

// GetSubmission returns a submission with its answers. Owners see scores only once the
// submission is graded and its results published; in-progress attempts are only visible to
// their owner.
func (svc *Service) GetSubmission(ctx context.Context, p policy.Principal, id string) (SubmissionDetail, error) {
	sub, err := svc.visibleSubmission(ctx, p, policy.ActionRead, id)
	if err != nil {
		return SubmissionDetail{}, err
	}
	e, err := svc.repo.GetExam(ctx, sub.ExamID)
	if err != nil {
		return SubmissionDetail{}, errors.Wrap(err, "finding exam")
	}
	return svc.detail(ctx, p, sub, e)
}

// ListExamSubmissions is the grading queue of an exam: every submitted attempt.
func (svc *Service) ListExamSubmissions(ctx context.Context, p policy.Principal, examID string) ([]Submission, error) {
	if err := policy.Require(p, policy.ActionRead, policy.Submission("")); err != nil {
		return nil, err
	}
	if _, err := svc.repo.GetExam(ctx, examID); err != nil {
		return nil, errors.Wrap(err, "finding exam")
	}
	subs, err := svc.repo.ListSubmissions(ctx, SubmissionFilter{ExamID: examID, SubmittedOnly: true})
	if err != nil {
		return nil, errors.Wrap(err, "listing submissions")
	}
	return subs, nil
}

// GradeSubmission runs one grading pass. Every grade is checked against its question's marks
// before anything is written; the pass is then applied atomically. The first pass must grade
// every answer; later passes may re-grade any subset.
func (svc *Service) GradeSubmission(ctx context.Context, p policy.Principal, id string, grades []AnswerGrade) (SubmissionDetail, error) {
	sub, err := svc.visibleSubmission(ctx, p, policy.ActionGrade, id)
	if err != nil {
		return SubmissionDetail{}, err
	}
	e, err := svc.repo.GetExam(ctx, sub.ExamID)
	if err != nil {
		return SubmissionDetail{}, errors.Wrap(err, "finding exam")
	}
	answers, err := svc.repo.ListAnswers(ctx, sub.ID)
	if err != nil {
		return SubmissionDetail{}, errors.Wrap(err, "listing answers")
	}
	if err = validateGrades(e, answers, grades); err != nil {
		return SubmissionDetail{}, err
	}

	sub, err = svc.repo.ApplyGrades(ctx, sub.ID, grades, p.UserID, svc.now())
	if err != nil {
		return SubmissionDetail{}, errors.Wrap(err, "applying grades")
	}
	svc.logger.Info(fmt.Sprintf("submission %s graded by %s: %v/%v", sub.ID, p.UserID, sub.TotalScore, sub.MaxScore))
	return svc.detail(ctx, p, sub, e)
}

// visibleSubmission loads a submission and checks that p may perform action on it.
// A principal who could not act on any student's submission learns nothing about existence.
func (svc *Service) visibleSubmission(ctx context.Context, p policy.Principal, action policy.Action, id string) (Submission, error) {
	sub, err := svc.repo.GetSubmission(ctx, id)
	if err != nil {
		if !core.IsNotFound(err) {
			return Submission{}, errors.Wrap(err, "finding submission")
		}
		if policy.Authorize(p, action, policy.Submission("")) == policy.Deny {
			return Submission{}, core.NewAuthorizationError(string(action))
		}
		return Submission{}, ErrSubmissionNotFound
	}
	if err = policy.Require(p, action, policy.Submission(sub.StudentID)); err != nil {
		return Submission{}, err
	}
	if !sub.Submitted() && sub.StudentID != p.UserID {
		return Submission{}, ErrSubmissionNotFound
	}
	return sub, nil
}

func validateGrades(e Exam, answers []Answer, grades []AnswerGrade) error {
	byID := make(map[string]Answer, len(answers))
	for _, a := range answers {
		byID[a.ID] = a
	}
	seen := make(map[string]bool, len(grades))
	for i, g := range grades {
		a, ok := byID[g.AnswerID]
		if !ok {
			return core.NewValidationError(ErrAnswerNotFound, core.FieldError{
				Field: fmt.Sprintf("grades[%d].answer_id", i),
				Error: ErrAnswerNotFound.Error(),
			})
		}
		if seen[g.AnswerID] {
			return core.NewValidationError(nil, core.FieldError{
				Field: fmt.Sprintf("grades[%d].answer_id", i),
				Error: "answer graded twice",
			})
		}
		seen[g.AnswerID] = true

		if g.MarksAwarded == nil {
			return core.NewValidationError(nil, core.FieldError{
				Field: fmt.Sprintf("grades[%d].marks_awarded", i),
				Error: "this field is required",
			})
		}
		q, _ := e.Question(a.QuestionID)
		if !scoring.InRange(*g.MarksAwarded, q.Marks) {
			return core.NewValidationError(nil, core.FieldError{
				Field: fmt.Sprintf("grades[%d].marks_awarded", i),
				Error: fmt.Sprintf("must be between 0 and %v", q.Marks),
			})
		}
	}

	// a graded submission has marks on every answer
	for _, a := range answers {
		if !a.MarksAwarded.Valid && !seen[a.ID] {
			return core.NewValidationError(nil, core.FieldError{
				Field: "grades",
				Error: fmt.Sprintf("answer %s has no marks", a.ID),
			})
		}
	}
	return nil
}

// Results

// ListResults lists the student's submitted attempts. Scores are only filled in for graded
// attempts of published exams; the rest are pending.
func (svc *Service) ListResults(ctx context.Context, p policy.Principal, studentID string) ([]ResultRow, error) {
	if err := policy.Require(p, policy.ActionRead, policy.Results(studentID)); err != nil {
		return nil, err
	}
	results, err := svc.repo.ListStudentResults(ctx, studentID)
	if err != nil {
		return nil, errors.Wrap(err, "listing results")
	}
	rows := make([]ResultRow, 0, len(results))
	for _, r := range results {
		rows = append(rows, resultRow(r))
	}
	return rows, nil
}

// ReportCard aggregates the student's graded attempts of published exams.
func (svc *Service) ReportCard(ctx context.Context, p policy.Principal, studentID string) (ReportCard, error) {
	if err := policy.Require(p, policy.ActionRead, policy.Results(studentID)); err != nil {
		return ReportCard{}, err
	}
	prof, err := svc.profiles.GetProfile(ctx, studentID)
	if err != nil {
		return ReportCard{}, errors.Wrap(err, "finding profile")
	}
	results, err := svc.repo.ListStudentResults(ctx, studentID)
	if err != nil {
		return ReportCard{}, errors.Wrap(err, "listing results")
	}

	card := ReportCard{Student: prof, Results: make([]ResultRow, 0, len(results))}
	entries := make([]scoring.Entry, 0, len(results))
	for _, r := range results {
		if !visible(r.Submission, r.Exam.ResultsPublished) {
			continue
		}
		card.Results = append(card.Results, resultRow(r))
		entries = append(entries, scoring.Entry{Subject: r.Exam.Subject, Total: r.TotalScore, Max: r.MaxScore})
	}
	card.Aggregate = scoring.Aggregate(entries)
	return card, nil
}

func resultRow(r StudentResult) ResultRow {
	row := ResultRow{
		SubmissionID: r.ID,
		Exam:         r.Exam,
		SubmittedAt:  r.SubmittedAt,
		Status:       StatusPending,
		MaxScore:     r.MaxScore,
	}
	if visible(r.Submission, r.Exam.ResultsPublished) {
		res := scoring.Grade(r.TotalScore, r.MaxScore)
		row.Status = StatusPublished
		row.TotalScore = null.Float64From(r.TotalScore)
		row.Result = &res
	}
	return row
}

// detail builds the view of sub for p. Elevated principals see everything plus suggested marks
// for multiple-choice answers; anyone else sees scores only when visible.
func (svc *Service) detail(ctx context.Context, p policy.Principal, sub Submission, e Exam) (SubmissionDetail, error) {
	answers, err := svc.repo.ListAnswers(ctx, sub.ID)
	if err != nil {
		return SubmissionDetail{}, errors.Wrap(err, "listing answers")
	}

	full := elevated(p)
	showScore := full || visible(sub, e.ResultsPublished)

	d := SubmissionDetail{
		ID:          sub.ID,
		Exam:        e.Summary(),
		StudentID:   sub.StudentID,
		Status:      sub.Status(),
		StartedAt:   sub.StartedAt,
		SubmittedAt: sub.SubmittedAt,
		MaxScore:    sub.MaxScore,
		Answers:     make([]AnswerDetail, 0, len(answers)),
	}
	if showScore {
		res := scoring.Grade(sub.TotalScore, sub.MaxScore)
		d.TotalScore = null.Float64From(sub.TotalScore)
		d.IsGraded = null.BoolFrom(sub.IsGraded)
		d.GradedAt = sub.GradedAt
		d.GradedBy = sub.GradedBy
		if sub.IsGraded {
			d.Result = &res
		}
	} else if sub.Submitted() {
		d.Status = StatusPending
	}

	for _, a := range answers {
		q, _ := e.Question(a.QuestionID)
		ad := AnswerDetail{Answer: a, Question: q}
		if a.MarksAwarded.Valid {
			ad.MarksAwarded.Float64 = scoring.Clamp(a.MarksAwarded.Float64, q.Marks)
		}
		if !showScore {
			ad.IsCorrect = null.Bool{}
			ad.MarksAwarded = null.Float64{}
			ad.Feedback = null.String{}
		}
		if !full && !showScore {
			ad.Question.CorrectAnswer = null.String{}
		}
		if full && !a.MarksAwarded.Valid {
			if _, marks, ok := scoring.AutoMark(q.Kind == MultipleChoice, q.CorrectAnswer.String, a.AnswerText, q.Marks); ok {
				ad.SuggestedMarks = null.Float64From(marks)
			}
		}
		d.Answers = append(d.Answers, ad)
	}
	return d, nil
}

const (
	resultsPublishedText = `Hello {{ .Data.Name }},

The results of "{{ .Data.Exam.Title }}" ({{ .Data.Exam.Subject }}) have been published.
See them at {{ .FrontendBaseURL }}/submissions/{{ .Data.SubmissionID }}

{{ .Data.AppName }}
`
	resultsPublishedHTML = `<p>Hello {{ .Data.Name }},</p>
<p>The results of <strong>{{ .Data.Exam.Title }}</strong> ({{ .Data.Exam.Subject }}) have been published.</p>
<p><a href="{{ .FrontendBaseURL }}/submissions/{{ .Data.SubmissionID }}">View your results</a></p>
<p>{{ .Data.AppName }}</p>
`
)
