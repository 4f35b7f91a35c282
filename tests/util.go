package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/identity"
	"github.com/trezcool/mtihani/core/role"
	"github.com/trezcool/mtihani/storage/database"
)

// NewConfig returns the configuration used by tests.
func NewConfig() *core.Config {
	conf := core.NewConfig()
	conf.TestMode = true
	conf.Debug = false
	return conf
}

// PrepareDB returns a migrated in-memory sqlite database that is closed when the test ends.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()

	conf := NewConfig()
	conf.Database.Engine = database.EngineSQLite
	conf.Database.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.New().String())

	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("database.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db); err != nil {
		t.Fatalf("database.Migrate() failed: %v", err)
	}
	return db
}

// LogEntry is one message recorded by Logger.
type LogEntry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// Logger records messages instead of printing them.
type Logger struct {
	mu      sync.Mutex
	Entries []LogEntry
}

var _ core.Logger = (*Logger)(nil)

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Entries = append(l.Entries, LogEntry{Level: level, Msg: msg, Args: args})
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("debug", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("info", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("warn", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("error", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.log("fatal", msg, args) }

// Find returns the recorded entries of the given level with at least one matching argument.
func (l *Logger) Find(level string, match func(arg interface{}) bool) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var found []LogEntry
	for _, e := range l.Entries {
		if e.Level != level {
			continue
		}
		for _, arg := range e.Args {
			if match(arg) {
				found = append(found, e)
				break
			}
		}
	}
	return found
}

// CreateIdentity registers userID through the resolver and grants it r.
func CreateIdentity(t *testing.T, res *identity.Resolver, userID string, r role.Role) identity.Identity {
	t.Helper()

	ctx := context.Background()
	id, err := res.OnAccountCreated(ctx, identity.AccountCreated{
		UserID:   userID,
		Email:    userID + "@test.cd",
		FullName: "User " + userID,
	})
	if err != nil {
		t.Fatalf("OnAccountCreated() failed: %v", err)
	}
	if r != role.Student {
		if id, err = res.AssignRole(ctx, userID, r); err != nil {
			t.Fatalf("AssignRole() failed: %v", err)
		}
	}
	return id
}

// CreateExam stores an exam with one question per entry of marks; even positions are
// multiple-choice questions whose correct answer is "a".
func CreateExam(t *testing.T, repo exam.Repository, subject string, marks ...float64) exam.Exam {
	t.Helper()

	e := exam.Exam{
		Title:     subject + " exam",
		Subject:   subject,
		Type:      exam.TypeExam,
		ClassRef:  "S4",
		CreatedBy: "admin",
	}
	for i, m := range marks {
		q := exam.Question{
			Position: i + 1,
			Text:     fmt.Sprintf("Question %d", i+1),
			Kind:     exam.FreeText,
			Marks:    m,
		}
		if i%2 == 0 {
			q.Kind = exam.MultipleChoice
			q.Options = exam.Options{"a", "b", "c"}
			q.CorrectAnswer.SetValid("a")
		}
		e.MaxScore += m
		e.Questions = append(e.Questions, q)
	}
	e, err := repo.CreateExam(context.Background(), e)
	if err != nil {
		t.Fatalf("CreateExam() failed: %v", err)
	}
	return e
}
