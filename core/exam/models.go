package exam

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/identity"
	"github.com/trezcool/mtihani/core/scoring"
)

type (
	Type         string
	QuestionKind string
	Status       string
)

const (
	TypeExam                 Type = "exam"
	TypeContinuousAssessment Type = "continuous_assessment"
	TypeQuiz                 Type = "quiz"

	MultipleChoice QuestionKind = "multiple_choice"
	FreeText       QuestionKind = "free_text"

	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusGraded     Status = "graded"

	// student-facing result statuses
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
)

// Options is a list of answer choices stored as a JSON array.
type Options []string

func (o Options) Value() (driver.Value, error) {
	if o == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(o))
	return string(b), err
}

func (o *Options) Scan(src interface{}) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*o = nil
		return nil
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return fmt.Errorf("options: cannot scan %T", src)
	}
	return json.Unmarshal(b, (*[]string)(o))
}

type Exam struct {
	ID               string     `json:"id" db:"id"`
	Title            string     `json:"title" db:"title"`
	Subject          string     `json:"subject" db:"subject"`
	Type             Type       `json:"exam_type" db:"exam_type"`
	ClassRef         string     `json:"class_reference" db:"class_reference"`
	MaxScore         float64    `json:"max_score" db:"max_score"`
	ResultsPublished bool       `json:"results_published" db:"results_published"`
	PublishedAt      null.Time  `json:"published_at" db:"published_at"`
	CreatedBy        string     `json:"created_by" db:"created_by"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	Questions        []Question `json:"questions,omitempty" db:"-"`
}

// Question returns the exam question with the given id.
func (e Exam) Question(id string) (Question, bool) {
	for _, q := range e.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

type Question struct {
	ID            string       `json:"id" db:"id"`
	ExamID        string       `json:"exam_id" db:"exam_id"`
	Position      int          `json:"position" db:"position"`
	Text          string       `json:"text" db:"body"`
	Kind          QuestionKind `json:"type" db:"kind"`
	Options       Options      `json:"options" db:"options"`
	CorrectAnswer null.String  `json:"correct_answer" db:"correct_answer"`
	Marks         float64      `json:"marks" db:"marks"`
}

// Submission is one student's attempt at an exam. There is at most one per (exam, student).
type Submission struct {
	ID          string      `json:"id" db:"id"`
	ExamID      string      `json:"exam_id" db:"exam_id"`
	StudentID   string      `json:"student_id" db:"student_id"`
	StartedAt   time.Time   `json:"started_at" db:"started_at"`
	SubmittedAt null.Time   `json:"submitted_at" db:"submitted_at"`
	TotalScore  float64     `json:"total_score" db:"total_score"`
	MaxScore    float64     `json:"max_score" db:"max_score"`
	IsGraded    bool        `json:"is_graded" db:"is_graded"`
	GradedAt    null.Time   `json:"graded_at" db:"graded_at"`
	GradedBy    null.String `json:"graded_by" db:"graded_by"`
}

func (s Submission) Status() Status {
	switch {
	case s.IsGraded:
		return StatusGraded
	case s.SubmittedAt.Valid:
		return StatusSubmitted
	default:
		return StatusInProgress
	}
}

func (s Submission) Submitted() bool { return s.SubmittedAt.Valid }

type Answer struct {
	ID           string       `json:"id" db:"id"`
	SubmissionID string       `json:"submission_id" db:"submission_id"`
	QuestionID   string       `json:"question_id" db:"question_id"`
	AnswerText   string       `json:"answer_text" db:"answer_text"`
	IsCorrect    null.Bool    `json:"is_correct" db:"is_correct"`
	MarksAwarded null.Float64 `json:"marks_awarded" db:"marks_awarded"`
	Feedback     null.String  `json:"feedback" db:"feedback"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}

// AnswerGrade is the grader's verdict on one answer. Every field supplied overwrites the stored value.
type AnswerGrade struct {
	AnswerID     string      `json:"answer_id" validate:"required"`
	MarksAwarded *float64    `json:"marks_awarded" validate:"required"`
	IsCorrect    null.Bool   `json:"is_correct"`
	Feedback     null.String `json:"feedback"`
}

// SubmissionFilter narrows ListSubmissions; zero fields are ignored.
type SubmissionFilter struct {
	ExamID        string
	StudentID     string
	SubmittedOnly bool
	GradedOnly    bool
}

// StudentResult is a submitted attempt joined with its exam.
type StudentResult struct {
	Submission
	Exam ExamSummary
}

// Requests

type (
	NewExam struct {
		Title     string        `json:"title" validate:"required,notblank,max=200"`
		Subject   string        `json:"subject" validate:"required,notblank,max=100"`
		Type      Type          `json:"exam_type" validate:"required,oneof=exam continuous_assessment quiz"`
		ClassRef  string        `json:"class_reference" validate:"max=100"`
		Questions []NewQuestion `json:"questions" validate:"dive"`
	}

	NewQuestion struct {
		Text          string       `json:"text" validate:"required,notblank"`
		Kind          QuestionKind `json:"type" validate:"required,oneof=multiple_choice free_text"`
		Options       []string     `json:"options"`
		CorrectAnswer string       `json:"correct_answer"`
		Marks         float64      `json:"marks" validate:"gte=0"`
	}

	AnswerInput struct {
		QuestionID string `json:"question_id" validate:"required"`
		AnswerText string `json:"answer_text" validate:"max=10000"`
	}

	SaveAnswersRequest struct {
		Answers []AnswerInput `json:"answers" validate:"required,dive"`
	}

	GradeRequest struct {
		Grades []AnswerGrade `json:"grades" validate:"required,min=1,dive"`
	}
)

func (ne *NewExam) Validate(validate *validator.Validate) error {
	ne.Title = core.CleanString(ne.Title)
	ne.Subject = core.CleanString(ne.Subject)
	ne.Type = Type(core.CleanString(string(ne.Type), true /* lower */))
	ne.ClassRef = core.CleanString(ne.ClassRef)
	for i := range ne.Questions {
		q := &ne.Questions[i]
		q.Text = core.CleanString(q.Text)
		q.Kind = QuestionKind(core.CleanString(string(q.Kind), true /* lower */))
		q.CorrectAnswer = core.CleanString(q.CorrectAnswer)
		for j := range q.Options {
			q.Options[j] = core.CleanString(q.Options[j])
		}
	}
	if err := validate.Struct(ne); err != nil {
		return err
	}

	for i, q := range ne.Questions {
		if q.Kind != MultipleChoice {
			continue
		}
		fld := fmt.Sprintf("questions[%d].correct_answer", i)
		if q.CorrectAnswer == "" {
			return core.NewValidationError(nil, core.FieldError{Field: fld, Error: "this field is required"})
		}
		if len(q.Options) > 0 && !contains(q.Options, q.CorrectAnswer) {
			return core.NewValidationError(nil, core.FieldError{Field: fld, Error: "must be one of the options"})
		}
	}
	return nil
}

func (sr *SaveAnswersRequest) Validate(validate *validator.Validate) error {
	for i := range sr.Answers {
		sr.Answers[i].QuestionID = core.CleanString(sr.Answers[i].QuestionID)
	}
	return validate.Struct(sr)
}

func (gr *GradeRequest) Validate(validate *validator.Validate) error {
	for i := range gr.Grades {
		gr.Grades[i].AnswerID = core.CleanString(gr.Grades[i].AnswerID)
	}
	return validate.Struct(gr)
}

// Views

type (
	ExamSummary struct {
		ID               string `json:"id" db:"id"`
		Title            string `json:"title" db:"title"`
		Subject          string `json:"subject" db:"subject"`
		Type             Type   `json:"exam_type" db:"exam_type"`
		ResultsPublished bool   `json:"results_published" db:"results_published"`
	}

	AnswerDetail struct {
		Answer
		Question       Question     `json:"question"`
		SuggestedMarks null.Float64 `json:"suggested_marks"`
	}

	SubmissionDetail struct {
		ID          string          `json:"id"`
		Exam        ExamSummary     `json:"exam"`
		StudentID   string          `json:"student_id"`
		Status      Status          `json:"status"`
		StartedAt   time.Time       `json:"started_at"`
		SubmittedAt null.Time       `json:"submitted_at"`
		MaxScore    float64         `json:"max_score"`
		TotalScore  null.Float64    `json:"total_score"`
		IsGraded    null.Bool       `json:"is_graded"`
		GradedAt    null.Time       `json:"graded_at"`
		GradedBy    null.String     `json:"graded_by"`
		Result      *scoring.Result `json:"result,omitempty"`
		Answers     []AnswerDetail  `json:"answers"`
	}

	ResultRow struct {
		SubmissionID string          `json:"submission_id"`
		Exam         ExamSummary     `json:"exam"`
		SubmittedAt  null.Time       `json:"submitted_at"`
		Status       Status          `json:"status"`
		TotalScore   null.Float64    `json:"total_score"`
		MaxScore     float64         `json:"max_score"`
		Result       *scoring.Result `json:"result,omitempty"`
	}

	ReportCard struct {
		Student   identity.Profile `json:"student"`
		Aggregate scoring.Summary  `json:"aggregate"`
		Results   []ResultRow      `json:"results"`
	}
)

func (e Exam) Summary() ExamSummary {
	return ExamSummary{
		ID:               e.ID,
		Title:            e.Title,
		Subject:          e.Subject,
		Type:             e.Type,
		ResultsPublished: e.ResultsPublished,
	}
}

// visible reports whether the student may see the score of a submission.
func visible(sub Submission, published bool) bool {
	return sub.IsGraded && published
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
