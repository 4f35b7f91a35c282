package echoapi_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/role"
)

func newExamBody() exam.NewExam {
	return exam.NewExam{
		Title:   "Mid-term",
		Subject: "Maths",
		Type:    exam.TypeExam,
		Questions: []exam.NewQuestion{
			{Text: "2+2?", Kind: exam.MultipleChoice, Options: []string{"3", "4"}, CorrectAnswer: "4", Marks: 4},
			{Text: "Prove it.", Kind: exam.FreeText, Marks: 6},
		},
	}
}

func createExam(t *testing.T, app testApp, token string) exam.Exam {
	t.Helper()
	var e exam.Exam
	req, rr := newAuthRequest(http.MethodPost, "/v1/exams", token, marshallObj(t, newExamBody()))
	require.Equal(t, http.StatusCreated, app.do(t, req, rr, &e).Code, rr.Body.String())
	return e
}

func TestExamAPI_createExam(t *testing.T) {
	app := setup(t)
	admToken := app.newIdentity(t, "adm", role.Admin)
	tchToken := app.newIdentity(t, "tch", role.Teacher)

	mcWithoutAnswer := newExamBody()
	mcWithoutAnswer.Questions[0].CorrectAnswer = ""

	tests := []httpTest{
		{
			name:     "teacher cannot edit the catalog",
			body:     marshallObj(t, newExamBody()),
			token:    tchToken,
			wantCode: http.StatusForbidden,
			wantData: marshallObj(t, errPermission),
		},
		{
			name:     "missing title",
			body:     []byte(`{"subject": "Maths", "exam_type": "exam"}`),
			token:    admToken,
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"title": "this field is required"}`),
		},
		{
			name:     "multiple choice without correct answer",
			body:     marshallObj(t, mcWithoutAnswer),
			token:    admToken,
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"questions[0].correct_answer": "this field is required"}`),
		},
		{
			name:     "admin",
			body:     marshallObj(t, newExamBody()),
			token:    admToken,
			wantCode: http.StatusCreated,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rr := newAuthRequest(http.MethodPost, "/v1/exams", tt.token, tt.body)
			checkCodeAndData(t, tt, app.do(t, req, rr))
		})
	}
}

func TestExamAPI_flow(t *testing.T) {
	app := setup(t)
	admToken := app.newIdentity(t, "adm", role.Admin)
	tchToken := app.newIdentity(t, "tch", role.Teacher)
	stuToken := app.newIdentity(t, "stu", role.Student)
	othToken := app.newIdentity(t, "oth", role.Student)

	e := createExam(t, app, admToken)
	assert.Equal(t, 10.0, e.MaxScore)

	// students never see correct answers
	var seen exam.Exam
	req, rr := newAuthRequest(http.MethodGet, "/v1/exams/"+e.ID, stuToken)
	require.Equal(t, http.StatusOK, app.do(t, req, rr, &seen).Code)
	assert.False(t, seen.Questions[0].CorrectAnswer.Valid)

	req, rr = newAuthRequest(http.MethodGet, "/v1/exams/missing", stuToken)
	checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: []byte(`{"error": "exam not found"}`)}, app.do(t, req, rr))

	// attempt
	var d exam.SubmissionDetail
	req, rr = newAuthRequest(http.MethodPost, "/v1/exams/"+e.ID+"/attempts", stuToken)
	require.Equal(t, http.StatusCreated, app.do(t, req, rr, &d).Code, rr.Body.String())
	assert.Equal(t, exam.StatusInProgress, d.Status)
	subPath := "/v1/submissions/" + d.ID

	answers := exam.SaveAnswersRequest{Answers: []exam.AnswerInput{
		{QuestionID: e.Questions[0].ID, AnswerText: "4"},
		{QuestionID: e.Questions[1].ID, AnswerText: "Because."},
	}}
	req, rr = newAuthRequest(http.MethodPut, subPath+"/answers", othToken, marshallObj(t, answers))
	checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marshallObj(t, errPermission)}, app.do(t, req, rr))

	req, rr = newAuthRequest(http.MethodPut, subPath+"/answers", stuToken, marshallObj(t, answers))
	require.Equal(t, http.StatusOK, app.do(t, req, rr, &d).Code, rr.Body.String())
	assert.Len(t, d.Answers, 2)

	// in-progress attempts are hidden from graders
	req, rr = newAuthRequest(http.MethodGet, subPath, tchToken)
	assert.Equal(t, http.StatusNotFound, app.do(t, req, rr).Code)

	req, rr = newAuthRequest(http.MethodPost, subPath+"/submit", stuToken)
	require.Equal(t, http.StatusOK, app.do(t, req, rr, &d).Code)
	assert.Equal(t, exam.StatusPending, d.Status)

	req, rr = newAuthRequest(http.MethodPut, subPath+"/answers", stuToken, marshallObj(t, answers))
	assert.Equal(t, http.StatusBadRequest, app.do(t, req, rr).Code, "answers are frozen once submitted")

	// grading queue
	var queue []exam.Submission
	req, rr = newAuthRequest(http.MethodGet, "/v1/exams/"+e.ID+"/submissions", tchToken)
	require.Equal(t, http.StatusOK, app.do(t, req, rr, &queue).Code)
	require.Len(t, queue, 1)

	req, rr = newAuthRequest(http.MethodGet, subPath, tchToken)
	require.Equal(t, http.StatusOK, app.do(t, req, rr, &d).Code)
	require.Len(t, d.Answers, 2)
	assert.Equal(t, 4.0, d.Answers[0].SuggestedMarks.Float64)

	grade := func(marks ...float64) []byte {
		body := `{"grades": [`
		for i, m := range marks {
			if i > 0 {
				body += ","
			}
			body += fmt.Sprintf(`{"answer_id": %q, "marks_awarded": %v}`, d.Answers[i].ID, m)
		}
		return []byte(body + `]}`)
	}

	tests := []httpTest{
		{name: "student cannot grade", body: grade(4, 6), token: stuToken, wantCode: http.StatusForbidden, wantData: marshallObj(t, errPermission)},
		{name: "no grades", body: []byte(`{"grades": []}`), token: tchToken, wantCode: http.StatusBadRequest},
		{name: "marks out of range", body: grade(4, 7), token: tchToken, wantCode: http.StatusBadRequest, wantData: []byte(`{"grades[1].marks_awarded": "must be between 0 and 6"}`)},
		{name: "teacher grades", body: grade(4, 3), token: tchToken, wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rr := newAuthRequest(http.MethodPost, subPath+"/grade", tt.token, tt.body)
			checkCodeAndData(t, tt, app.do(t, req, rr))
		})
	}

	// graded but unpublished: the student sees a pending result
	var own exam.SubmissionDetail
	req, rr = newAuthRequest(http.MethodGet, subPath, stuToken)
	require.Equal(t, http.StatusOK, app.do(t, req, rr, &own).Code)
	assert.Equal(t, exam.StatusPending, own.Status)
	assert.False(t, own.TotalScore.Valid)

	var card exam.ReportCard
	req, rr = newAuthRequest(http.MethodGet, "/v1/students/me/report-card", stuToken)
	require.Equal(t, http.StatusOK, app.do(t, req, rr, &card).Code)
	assert.Empty(t, card.Results)

	req, rr = newAuthRequest(http.MethodPost, "/v1/exams/"+e.ID+"/publish", stuToken)
	assert.Equal(t, http.StatusForbidden, app.do(t, req, rr).Code)

	var summary exam.ExamSummary
	req, rr = newAuthRequest(http.MethodPost, "/v1/exams/"+e.ID+"/publish", tchToken)
	require.Equal(t, http.StatusOK, app.do(t, req, rr, &summary).Code)
	assert.True(t, summary.ResultsPublished)

	req, rr = newAuthRequest(http.MethodGet, subPath, stuToken)
	require.Equal(t, http.StatusOK, app.do(t, req, rr, &own).Code)
	assert.Equal(t, exam.StatusGraded, own.Status)
	assert.Equal(t, 7.0, own.TotalScore.Float64)
	require.NotNil(t, own.Result)
	assert.Equal(t, 70, own.Result.Percentage)

	var rows []exam.ResultRow
	req, rr = newAuthRequest(http.MethodGet, "/v1/students/stu/results", tchToken)
	require.Equal(t, http.StatusOK, app.do(t, req, rr, &rows).Code)
	require.Len(t, rows, 1)
	assert.Equal(t, exam.StatusPublished, rows[0].Status)

	req, rr = newAuthRequest(http.MethodGet, "/v1/students/me/report-card", stuToken)
	require.Equal(t, http.StatusOK, app.do(t, req, rr, &card).Code)
	assert.Len(t, card.Results, 1)
	assert.Equal(t, 70, card.Aggregate.Percentage)
	assert.Equal(t, "C", card.Aggregate.Letter)

	// results stay private
	req, rr = newAuthRequest(http.MethodGet, "/v1/students/stu/results", othToken)
	assert.Equal(t, http.StatusForbidden, app.do(t, req, rr).Code)
	req, rr = newAuthRequest(http.MethodGet, subPath, othToken)
	assert.Equal(t, http.StatusForbidden, app.do(t, req, rr).Code)
	req, rr = newAuthRequest(http.MethodGet, "/v1/submissions/missing", othToken)
	assert.Equal(t, http.StatusForbidden, app.do(t, req, rr).Code, "missing and foreign submissions look alike")
}
