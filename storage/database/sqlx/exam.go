package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mtihani/core/exam"
)

const (
	examColumns       = "id, title, subject, exam_type, class_reference, max_score, results_published, published_at, created_by, created_at"
	questionColumns   = "id, exam_id, position, body, kind, options, correct_answer, marks"
	submissionColumns = "id, exam_id, student_id, started_at, submitted_at, total_score, max_score, is_graded, graded_at, graded_by"
)

type examRepository struct {
	db *sqlx.DB
}

var _ exam.Repository = (*examRepository)(nil) // interface compliance check

func NewExamRepository(db *sqlx.DB) *examRepository {
	return &examRepository{db: db}
}

func (repo examRepository) CreateExam(ctx context.Context, e exam.Exam) (exam.Exam, error) {
	e.ID = uuid.New().String()
	e.CreatedAt = e.CreatedAt.UTC()

	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		q := tx.Rebind(`INSERT INTO exams (` + examColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, q,
			e.ID, e.Title, e.Subject, string(e.Type), e.ClassRef, e.MaxScore,
			e.ResultsPublished, e.PublishedAt, e.CreatedBy, e.CreatedAt,
		); err != nil {
			return errors.Wrap(err, "inserting exam")
		}

		q = tx.Rebind(`INSERT INTO questions (` + questionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		for i := range e.Questions {
			qn := &e.Questions[i]
			qn.ID = uuid.New().String()
			qn.ExamID = e.ID
			if _, err := tx.ExecContext(ctx, q,
				qn.ID, qn.ExamID, qn.Position, qn.Text, string(qn.Kind), qn.Options, qn.CorrectAnswer, qn.Marks,
			); err != nil {
				return errors.Wrapf(err, "inserting question %d", qn.Position)
			}
		}
		return nil
	})
	if err != nil {
		return exam.Exam{}, err
	}
	return e, nil
}

func (repo examRepository) GetExam(ctx context.Context, id string) (exam.Exam, error) {
	var e exam.Exam
	q := repo.db.Rebind(`SELECT ` + examColumns + ` FROM exams WHERE id = ?`)
	if err := repo.db.GetContext(ctx, &e, q, id); err != nil {
		return exam.Exam{}, trapNoRowsErr(err, exam.ErrExamNotFound, "selecting exam")
	}

	q = repo.db.Rebind(`SELECT ` + questionColumns + ` FROM questions WHERE exam_id = ? ORDER BY position`)
	if err := repo.db.SelectContext(ctx, &e.Questions, q, id); err != nil {
		return exam.Exam{}, errors.Wrap(err, "selecting questions")
	}
	return e, nil
}

func (repo examRepository) PublishResults(ctx context.Context, examID string, at time.Time) (exam.Exam, bool, error) {
	q := repo.db.Rebind(`
		UPDATE exams SET results_published = TRUE, published_at = ?
		WHERE id = ? AND results_published = FALSE`)
	res, err := repo.db.ExecContext(ctx, q, at.UTC(), examID)
	if err != nil {
		return exam.Exam{}, false, errors.Wrap(err, "publishing results")
	}
	n, err := affected(res)
	if err != nil {
		return exam.Exam{}, false, err
	}

	e, err := repo.GetExam(ctx, examID)
	if err != nil {
		return exam.Exam{}, false, err
	}
	return e, n > 0, nil
}

func (repo examRepository) CreateSubmission(ctx context.Context, sub exam.Submission) (exam.Submission, bool, error) {
	var (
		out     exam.Submission
		created bool
	)
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		q := tx.Rebind(`
			INSERT INTO submissions (id, exam_id, student_id, started_at, total_score, max_score, is_graded)
			VALUES (?, ?, ?, ?, 0, 0, FALSE)
			ON CONFLICT (exam_id, student_id) DO NOTHING`)
		res, err := tx.ExecContext(ctx, q, uuid.New().String(), sub.ExamID, sub.StudentID, sub.StartedAt.UTC())
		if err != nil {
			return errors.Wrap(err, "inserting submission")
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		created = n > 0

		q = tx.Rebind(`SELECT ` + submissionColumns + ` FROM submissions WHERE exam_id = ? AND student_id = ?`)
		return errors.Wrap(tx.GetContext(ctx, &out, q, sub.ExamID, sub.StudentID), "selecting submission")
	})
	if err != nil {
		return exam.Submission{}, false, err
	}
	return out, created, nil
}

func (repo examRepository) GetSubmission(ctx context.Context, id string) (exam.Submission, error) {
	return getSubmission(ctx, repo.db, id)
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

func getSubmission(ctx context.Context, db queryer, id string) (exam.Submission, error) {
	var sub exam.Submission
	q := db.Rebind(`SELECT ` + submissionColumns + ` FROM submissions WHERE id = ?`)
	if err := sqlx.GetContext(ctx, db, &sub, q, id); err != nil {
		return exam.Submission{}, trapNoRowsErr(err, exam.ErrSubmissionNotFound, "selecting submission")
	}
	return sub, nil
}

func (repo examRepository) ListAnswers(ctx context.Context, submissionID string) ([]exam.Answer, error) {
	q := repo.db.Rebind(`
		SELECT a.id, a.submission_id, a.question_id, a.answer_text, a.is_correct, a.marks_awarded, a.feedback, a.updated_at
		FROM answers a JOIN questions q ON q.id = a.question_id
		WHERE a.submission_id = ?
		ORDER BY q.position`)

	answers := make([]exam.Answer, 0)
	if err := repo.db.SelectContext(ctx, &answers, q, submissionID); err != nil {
		return nil, errors.Wrap(err, "selecting answers")
	}
	return answers, nil
}

// lockOpen takes the submission row lock (on engines that have one) and fails unless the
// submission is still in progress.
func lockOpen(ctx context.Context, tx *sqlx.Tx, submissionID string) error {
	q := tx.Rebind(`UPDATE submissions SET started_at = started_at WHERE id = ? AND submitted_at IS NULL`)
	res, err := tx.ExecContext(ctx, q, submissionID)
	if err != nil {
		return errors.Wrap(err, "locking submission")
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err = getSubmission(ctx, tx, submissionID); err != nil {
			return err
		}
		return exam.ErrSubmissionClosed
	}
	return nil
}

func (repo examRepository) SaveAnswers(ctx context.Context, submissionID string, answers []exam.Answer) error {
	return withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if err := lockOpen(ctx, tx, submissionID); err != nil {
			return err
		}

		q := tx.Rebind(`
			INSERT INTO answers (id, submission_id, question_id, answer_text, updated_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (submission_id, question_id) DO UPDATE SET
				answer_text = EXCLUDED.answer_text,
				updated_at = EXCLUDED.updated_at`)
		for _, a := range answers {
			if _, err := tx.ExecContext(ctx, q, uuid.New().String(), submissionID, a.QuestionID, a.AnswerText, a.UpdatedAt.UTC()); err != nil {
				return errors.Wrapf(err, "saving answer to %s", a.QuestionID)
			}
		}
		return nil
	})
}

func (repo examRepository) MarkSubmitted(ctx context.Context, submissionID string, at time.Time, maxScore float64, blanks []exam.Answer) (exam.Submission, error) {
	var sub exam.Submission
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if err := lockOpen(ctx, tx, submissionID); err != nil {
			return err
		}

		q := tx.Rebind(`
			INSERT INTO answers (id, submission_id, question_id, answer_text, updated_at) VALUES (?, ?, ?, '', ?)
			ON CONFLICT (submission_id, question_id) DO NOTHING`)
		for _, a := range blanks {
			if _, err := tx.ExecContext(ctx, q, uuid.New().String(), submissionID, a.QuestionID, a.UpdatedAt.UTC()); err != nil {
				return errors.Wrapf(err, "inserting blank answer to %s", a.QuestionID)
			}
		}

		q = tx.Rebind(`UPDATE submissions SET submitted_at = ?, max_score = ? WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, q, at.UTC(), maxScore, submissionID); err != nil {
			return errors.Wrap(err, "marking submitted")
		}

		var err error
		sub, err = getSubmission(ctx, tx, submissionID)
		return err
	})
	if err != nil {
		return exam.Submission{}, err
	}
	return sub, nil
}

func (repo examRepository) ApplyGrades(ctx context.Context, submissionID string, grades []exam.AnswerGrade, gradedBy string, at time.Time) (exam.Submission, error) {
	var sub exam.Submission
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		q := tx.Rebind(`
			UPDATE answers SET marks_awarded = ?, is_correct = ?, feedback = ?, updated_at = ?
			WHERE id = ? AND submission_id = ?`)
		for _, g := range grades {
			res, err := tx.ExecContext(ctx, q,
				null.Float64FromPtr(g.MarksAwarded), g.IsCorrect, g.Feedback, at.UTC(), g.AnswerID, submissionID,
			)
			if err != nil {
				return errors.Wrapf(err, "updating answer %s", g.AnswerID)
			}
			n, err := affected(res)
			if err != nil {
				return err
			}
			if n == 0 {
				return exam.ErrAnswerNotFound
			}
		}

		q = tx.Rebind(`
			UPDATE submissions SET
				total_score = (SELECT COALESCE(SUM(marks_awarded), 0) FROM answers WHERE submission_id = ?),
				is_graded = TRUE,
				graded_at = ?,
				graded_by = ?
			WHERE id = ? AND submitted_at IS NOT NULL`)
		res, err := tx.ExecContext(ctx, q, submissionID, at.UTC(), gradedBy, submissionID)
		if err != nil {
			return errors.Wrap(err, "updating submission score")
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.New("grading a submission in progress")
		}

		sub, err = getSubmission(ctx, tx, submissionID)
		return err
	})
	if err != nil {
		return exam.Submission{}, err
	}
	return sub, nil
}

func (repo examRepository) ListSubmissions(ctx context.Context, filter exam.SubmissionFilter) ([]exam.Submission, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.ExamID != "" {
		where = append(where, "exam_id = ?")
		args = append(args, filter.ExamID)
	}
	if filter.StudentID != "" {
		where = append(where, "student_id = ?")
		args = append(args, filter.StudentID)
	}
	if filter.SubmittedOnly {
		where = append(where, "submitted_at IS NOT NULL")
	}
	if filter.GradedOnly {
		where = append(where, "is_graded = TRUE")
	}

	q := `SELECT ` + submissionColumns + ` FROM submissions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY submitted_at, started_at"

	subs := make([]exam.Submission, 0)
	if err := repo.db.SelectContext(ctx, &subs, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "selecting submissions")
	}
	return subs, nil
}

type studentResultRecord struct {
	exam.Submission
	ExamTitle            string    `db:"exam_title"`
	ExamSubject          string    `db:"exam_subject"`
	ExamType             exam.Type `db:"exam_type"`
	ExamResultsPublished bool      `db:"exam_results_published"`
}

func (repo examRepository) ListStudentResults(ctx context.Context, studentID string) ([]exam.StudentResult, error) {
	q := repo.db.Rebind(`
		SELECT
			s.id, s.exam_id, s.student_id, s.started_at, s.submitted_at, s.total_score, s.max_score,
			s.is_graded, s.graded_at, s.graded_by,
			e.title AS exam_title, e.subject AS exam_subject, e.exam_type AS exam_type,
			e.results_published AS exam_results_published
		FROM submissions s JOIN exams e ON e.id = s.exam_id
		WHERE s.student_id = ? AND s.submitted_at IS NOT NULL
		ORDER BY s.submitted_at DESC`)

	var records []studentResultRecord
	if err := repo.db.SelectContext(ctx, &records, q, studentID); err != nil {
		return nil, errors.Wrap(err, "selecting student results")
	}

	results := make([]exam.StudentResult, 0, len(records))
	for _, r := range records {
		results = append(results, exam.StudentResult{
			Submission: r.Submission,
			Exam: exam.ExamSummary{
				ID:               r.ExamID,
				Title:            r.ExamTitle,
				Subject:          r.ExamSubject,
				Type:             r.ExamType,
				ResultsPublished: r.ExamResultsPublished,
			},
		})
	}
	return results, nil
}
