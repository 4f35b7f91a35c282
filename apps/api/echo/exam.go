package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core/exam"
)

type examApi struct {
	svc      *exam.Service
	validate *validator.Validate
}

func registerExamAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := examApi{
		svc:      deps.ExamSvc,
		validate: deps.Validate,
	}

	eg := g.Group("/exams", jwt, principalMiddleware)
	eg.POST("", api.createExam)
	eg.GET("/:id", api.retrieveExam)
	eg.POST("/:id/publish", api.publishResults)
	eg.POST("/:id/attempts", api.startAttempt)
	eg.GET("/:id/submissions", api.querySubmissions)

	sg := g.Group("/submissions/:id", jwt, principalMiddleware)
	sg.GET("", api.retrieveSubmission)
	sg.PUT("/answers", api.saveAnswers)
	sg.POST("/submit", api.submit)
	sg.POST("/grade", api.grade)

	rg := g.Group("/students/:id", jwt, principalMiddleware)
	rg.GET("/results", api.queryResults)
	rg.GET("/report-card", api.reportCard)
}

// Exams

func (api *examApi) createExam(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}

	var data exam.NewExam
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewExam")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	e, err := api.svc.CreateExam(ctx.Request().Context(), p, data)
	if err != nil {
		return errors.Wrap(err, "creating exam")
	}
	return ctx.JSON(http.StatusCreated, e)
}

func (api *examApi) retrieveExam(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}

	e, err := api.svc.GetExam(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding exam")
	}
	return ctx.JSON(http.StatusOK, e)
}

func (api *examApi) publishResults(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}

	e, err := api.svc.PublishResults(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "publishing results")
	}
	return ctx.JSON(http.StatusOK, e.Summary())
}

func (api *examApi) startAttempt(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}

	d, err := api.svc.StartAttempt(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "starting attempt")
	}
	return ctx.JSON(http.StatusCreated, d)
}

func (api *examApi) querySubmissions(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}

	subs, err := api.svc.ListExamSubmissions(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing submissions")
	}
	return ctx.JSON(http.StatusOK, subs)
}

// Submissions

func (api *examApi) retrieveSubmission(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}

	d, err := api.svc.GetSubmission(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding submission")
	}
	return ctx.JSON(http.StatusOK, d)
}

func (api *examApi) saveAnswers(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}

	var data exam.SaveAnswersRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SaveAnswersRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	d, err := api.svc.SaveAnswers(ctx.Request().Context(), p, ctx.Param("id"), data.Answers)
	if err != nil {
		return errors.Wrap(err, "saving answers")
	}
	return ctx.JSON(http.StatusOK, d)
}

func (api *examApi) submit(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}

	d, err := api.svc.Submit(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "submitting")
	}
	return ctx.JSON(http.StatusOK, d)
}

func (api *examApi) grade(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}

	var data exam.GradeRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GradeRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	d, err := api.svc.GradeSubmission(ctx.Request().Context(), p, ctx.Param("id"), data.Grades)
	if err != nil {
		return errors.Wrap(err, "grading submission")
	}
	return ctx.JSON(http.StatusOK, d)
}

// Results

func (api *examApi) queryResults(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}

	rows, err := api.svc.ListResults(ctx.Request().Context(), p, pathUserID(ctx, p))
	if err != nil {
		return errors.Wrap(err, "listing results")
	}
	return ctx.JSON(http.StatusOK, rows)
}

func (api *examApi) reportCard(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}

	card, err := api.svc.ReportCard(ctx.Request().Context(), p, pathUserID(ctx, p))
	if err != nil {
		return errors.Wrap(err, "building report card")
	}
	return ctx.JSON(http.StatusOK, card)
}
