package echoapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/mtihani/apps/api/echo"
	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/identity"
	"github.com/trezcool/mtihani/core/role"
	emailsvc "github.com/trezcool/mtihani/services/email"
	inmemdb "github.com/trezcool/mtihani/storage/database/inmem"
	testutil "github.com/trezcool/mtihani/tests"
)

type testApp struct {
	Server
	conf     *core.Config
	resolver *identity.Resolver
	examRepo exam.Repository
}

func setup(t *testing.T) testApp {
	t.Helper()

	conf := testutil.NewConfig()
	logger := new(testutil.Logger)

	// set up DB & repos
	db := inmemdb.Open()
	idRepo := inmemdb.NewIdentityRepository(db)
	examRepo := inmemdb.NewExamRepository(db)

	// set up services
	resolver := identity.NewResolver(idRepo, inmemdb.NewClaimStore(db), logger, conf)
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	examSvc := exam.NewService(examRepo, idRepo, mailSvc, logger, conf)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	identity.InitValidators(validate, translator)

	// set up server
	server := NewServer(ServerDeps{
		Conf:           conf,
		Logger:         logger,
		Resolver:       resolver,
		ExamSvc:        examSvc,
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
	})
	return testApp{Server: server, conf: conf, resolver: resolver, examRepo: examRepo}
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

// do serves the request and decodes the JSON response into out, if given.
func (app testApp) do(t *testing.T, req *http.Request, rec *httptest.ResponseRecorder, out ...interface{}) *httptest.ResponseRecorder {
	t.Helper()
	app.ServeHTTP(rec, req)
	if len(out) > 0 && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out[0]), rec.Body.String())
	}
	return rec
}

func (app testApp) getToken(t *testing.T, userID string, r role.Role) string {
	t.Helper()
	token, err := GenerateToken(app.conf, NewClaims(app.conf, userID, r))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

// newIdentity registers userID with role r and returns a token minted from its claim.
func (app testApp) newIdentity(t *testing.T, userID string, r role.Role) string {
	t.Helper()
	testutil.CreateIdentity(t, app.resolver, userID, r)
	return app.getToken(t, userID, r)
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if assert.NoError(t, err, "jsonBytesEqual() failed to compare") {
		assert.True(t, ok, "data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
