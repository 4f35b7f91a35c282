package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mtihani/core/exam"
)

type examRepository struct {
	db *examTable
}

var _ exam.Repository = (*examRepository)(nil) // interface compliance check

func NewExamRepository(db *DB) *examRepository {
	return &examRepository{db: db.exam}
}

func (repo *examRepository) CreateExam(_ context.Context, e exam.Exam) (exam.Exam, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	e.ID = uuid.New().String()
	qs := make([]exam.Question, len(e.Questions))
	for i, q := range e.Questions {
		q.ID = uuid.New().String()
		q.ExamID = e.ID
		qs[i] = q
	}
	e.Questions = qs
	repo.db.exams[e.ID] = &e
	return copyExam(e), nil
}

func (repo *examRepository) GetExam(_ context.Context, id string) (exam.Exam, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if e, ok := repo.db.exams[id]; ok {
		return copyExam(*e), nil
	}
	return exam.Exam{}, exam.ErrExamNotFound
}

func (repo *examRepository) PublishResults(_ context.Context, examID string, at time.Time) (exam.Exam, bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	e, ok := repo.db.exams[examID]
	if !ok {
		return exam.Exam{}, false, exam.ErrExamNotFound
	}
	if e.ResultsPublished {
		return copyExam(*e), false, nil
	}
	e.ResultsPublished = true
	e.PublishedAt = null.TimeFrom(at)
	return copyExam(*e), true, nil
}

func (repo *examRepository) CreateSubmission(_ context.Context, sub exam.Submission) (exam.Submission, bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.exams[sub.ExamID]; !ok {
		return exam.Submission{}, false, exam.ErrExamNotFound
	}
	for _, s := range repo.db.submissions {
		if s.ExamID == sub.ExamID && s.StudentID == sub.StudentID {
			return *s, false, nil
		}
	}
	sub.ID = uuid.New().String()
	repo.db.submissions[sub.ID] = &sub
	return sub, true, nil
}

func (repo *examRepository) GetSubmission(_ context.Context, id string) (exam.Submission, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if s, ok := repo.db.submissions[id]; ok {
		return *s, nil
	}
	return exam.Submission{}, exam.ErrSubmissionNotFound
}

func (repo *examRepository) ListAnswers(_ context.Context, submissionID string) ([]exam.Answer, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()
	return repo.answersOf(submissionID), nil
}

// answersOf returns the answers of a submission in question order. Callers hold the lock.
func (repo *examRepository) answersOf(submissionID string) []exam.Answer {
	var positions map[string]int
	if s, ok := repo.db.submissions[submissionID]; ok {
		if e, ok := repo.db.exams[s.ExamID]; ok {
			positions = make(map[string]int, len(e.Questions))
			for _, q := range e.Questions {
				positions[q.ID] = q.Position
			}
		}
	}

	answers := make([]exam.Answer, 0)
	for _, a := range repo.db.answers {
		if a.SubmissionID == submissionID {
			answers = append(answers, *a)
		}
	}
	sort.Slice(answers, func(i, j int) bool {
		return positions[answers[i].QuestionID] < positions[answers[j].QuestionID]
	})
	return answers
}

func (repo *examRepository) SaveAnswers(_ context.Context, submissionID string, answers []exam.Answer) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	sub, ok := repo.db.submissions[submissionID]
	if !ok {
		return exam.ErrSubmissionNotFound
	}
	if sub.Submitted() {
		return exam.ErrSubmissionClosed
	}

	existing := make(map[string]*exam.Answer)
	for _, a := range repo.db.answers {
		if a.SubmissionID == submissionID {
			existing[a.QuestionID] = a
		}
	}
	for _, a := range answers {
		if orig, ok := existing[a.QuestionID]; ok {
			orig.AnswerText = a.AnswerText
			orig.UpdatedAt = a.UpdatedAt
			continue
		}
		a := a
		a.ID = uuid.New().String()
		a.SubmissionID = submissionID
		repo.db.answers[a.ID] = &a
		existing[a.QuestionID] = &a
	}
	return nil
}

func (repo *examRepository) MarkSubmitted(_ context.Context, submissionID string, at time.Time, maxScore float64, blanks []exam.Answer) (exam.Submission, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	sub, ok := repo.db.submissions[submissionID]
	if !ok {
		return exam.Submission{}, exam.ErrSubmissionNotFound
	}
	if sub.Submitted() {
		return exam.Submission{}, exam.ErrSubmissionClosed
	}
	for _, a := range blanks {
		a := a
		a.ID = uuid.New().String()
		a.SubmissionID = submissionID
		repo.db.answers[a.ID] = &a
	}
	sub.SubmittedAt = null.TimeFrom(at)
	sub.MaxScore = maxScore
	return *sub, nil
}

func (repo *examRepository) ApplyGrades(_ context.Context, submissionID string, grades []exam.AnswerGrade, gradedBy string, at time.Time) (exam.Submission, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	sub, ok := repo.db.submissions[submissionID]
	if !ok {
		return exam.Submission{}, exam.ErrSubmissionNotFound
	}
	if !sub.Submitted() {
		return exam.Submission{}, errors.New("grading a submission in progress")
	}

	// stage every write; nothing is applied unless all of them succeed
	staged := make(map[string]exam.Answer, len(grades))
	for _, g := range grades {
		a, ok := repo.db.answers[g.AnswerID]
		if !ok || a.SubmissionID != submissionID {
			return exam.Submission{}, exam.ErrAnswerNotFound
		}
		if repo.db.failAnswer != nil {
			if err := repo.db.failAnswer(g.AnswerID); err != nil {
				return exam.Submission{}, errors.Wrapf(err, "updating answer %s", g.AnswerID)
			}
		}
		updated := *a
		updated.MarksAwarded = null.Float64FromPtr(g.MarksAwarded)
		updated.IsCorrect = g.IsCorrect
		updated.Feedback = g.Feedback
		updated.UpdatedAt = at
		staged[g.AnswerID] = updated
	}

	for id, a := range staged {
		a := a
		repo.db.answers[id] = &a
	}
	var total float64
	for _, a := range repo.db.answers {
		if a.SubmissionID == submissionID && a.MarksAwarded.Valid {
			total += a.MarksAwarded.Float64
		}
	}
	sub.TotalScore = total
	sub.IsGraded = true
	sub.GradedAt = null.TimeFrom(at)
	sub.GradedBy = null.StringFrom(gradedBy)
	return *sub, nil
}

func (repo *examRepository) ListSubmissions(_ context.Context, filter exam.SubmissionFilter) ([]exam.Submission, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	subs := make([]exam.Submission, 0)
	for _, s := range repo.db.submissions {
		switch {
		case filter.ExamID != "" && s.ExamID != filter.ExamID,
			filter.StudentID != "" && s.StudentID != filter.StudentID,
			filter.SubmittedOnly && !s.Submitted(),
			filter.GradedOnly && !s.IsGraded:
			continue
		}
		subs = append(subs, *s)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].SubmittedAt.Time.Before(subs[j].SubmittedAt.Time) })
	return subs, nil
}

func (repo *examRepository) ListStudentResults(_ context.Context, studentID string) ([]exam.StudentResult, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	results := make([]exam.StudentResult, 0)
	for _, s := range repo.db.submissions {
		if s.StudentID != studentID || !s.Submitted() {
			continue
		}
		e, ok := repo.db.exams[s.ExamID]
		if !ok {
			continue
		}
		results = append(results, exam.StudentResult{Submission: *s, Exam: e.Summary()})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].SubmittedAt.Time.After(results[j].SubmittedAt.Time)
	})
	return results, nil
}

func copyExam(e exam.Exam) exam.Exam {
	qs := make([]exam.Question, len(e.Questions))
	copy(qs, e.Questions)
	e.Questions = qs
	return e
}
