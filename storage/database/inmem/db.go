package inmemdb

import (
	"sync"

	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/identity"
	"github.com/trezcool/mtihani/core/role"
)

type (
	// DB is a process-local store used in tests and for running the API without a database.
	DB struct {
		identity *identityTable
		claims   *claimTable
		exam     *examTable
	}

	identityTable struct {
		profiles map[string]*identity.Profile
		roles    map[string]map[role.Role]roleRow
		mutex    sync.RWMutex
	}

	roleRow struct {
		role      role.Role
		grantedAt int64
	}

	claimTable struct {
		t     map[string]identity.Claim
		fail  error
		mutex sync.RWMutex
	}

	examTable struct {
		exams       map[string]*exam.Exam
		submissions map[string]*exam.Submission
		answers     map[string]*exam.Answer
		failAnswer  func(answerID string) error
		mutex       sync.RWMutex
	}
)

func Open() *DB {
	return &DB{
		identity: &identityTable{
			profiles: make(map[string]*identity.Profile),
			roles:    make(map[string]map[role.Role]roleRow),
		},
		claims: &claimTable{t: make(map[string]identity.Claim)},
		exam: &examTable{
			exams:       make(map[string]*exam.Exam),
			submissions: make(map[string]*exam.Submission),
			answers:     make(map[string]*exam.Answer),
		},
	}
}

// FailClaims makes every claim store call return err until it is called again with nil.
func (db *DB) FailClaims(err error) {
	db.claims.mutex.Lock()
	defer db.claims.mutex.Unlock()
	db.claims.fail = err
}

// FailAnswerWrites makes grading writes call fn for each answer; a non-nil error aborts the pass.
func (db *DB) FailAnswerWrites(fn func(answerID string) error) {
	db.exam.mutex.Lock()
	defer db.exam.mutex.Unlock()
	db.exam.failAnswer = fn
}
