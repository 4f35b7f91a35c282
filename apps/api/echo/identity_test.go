package echoapi_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/mtihani/apps/api/echo"
	"github.com/trezcool/mtihani/core/identity"
	"github.com/trezcool/mtihani/core/role"
)

var (
	errMissingToken  = httpErr{Error: "missing or malformed jwt"}
	errPermission    = httpErr{Error: "permission denied"}
	errHookSecret    = httpErr{Error: "invalid hook secret"}
	errProfileAbsent = httpErr{Error: "profile not found"}
)

func hookRequest(app testApp, path string, body []byte, secret ...string) (*http.Request, *httptest.ResponseRecorder) {
	req, rr := newRequest(http.MethodPost, path, body)
	s := app.conf.HookSecret
	if len(secret) > 0 {
		s = secret[0]
	}
	req.Header.Set("X-Hook-Secret", s)
	return req, rr
}

func TestIdentityAPI_accountCreated(t *testing.T) {
	app := setup(t)
	body := marshallObj(t, identity.AccountCreated{
		UserID:        "u-1",
		RequestedRole: "teacher",
		FullName:      "Jane Doe",
		Email:         "jane@test.cd",
	})

	req, rr := hookRequest(app, "/v1/hooks/account-created", body, "wrong")
	checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marshallObj(t, errHookSecret)}, app.do(t, req, rr))

	req, rr = hookRequest(app, "/v1/hooks/account-created", marshallObj(t, identity.AccountCreated{UserID: "u 1"}))
	assert.Equal(t, http.StatusBadRequest, app.do(t, req, rr).Code)

	var created AccountCreatedResponse
	req, rr = hookRequest(app, "/v1/hooks/account-created", body)
	require.Equal(t, http.StatusCreated, app.do(t, req, rr, &created).Code, rr.Body.String())
	assert.Equal(t, role.Teacher, created.Identity.Role)
	assert.Equal(t, "Jane Doe", created.Identity.DisplayName)
	require.NotEmpty(t, created.Token)

	// the event is idempotent
	req, rr = hookRequest(app, "/v1/hooks/account-created", body)
	assert.Equal(t, http.StatusCreated, app.do(t, req, rr).Code)

	// the session token identifies the new user
	var me identity.Identity
	req, rr = newAuthRequest(http.MethodGet, "/v1/users/me", created.Token)
	require.Equal(t, http.StatusOK, app.do(t, req, rr, &me).Code)
	assert.Equal(t, "u-1", me.UserID)
	assert.Equal(t, role.Teacher, me.Role)
}

func TestIdentityAPI_token(t *testing.T) {
	app := setup(t)
	app.newIdentity(t, "adm", role.Admin)

	tests := []httpTest{
		{
			name:     "unknown user",
			body:     marshallObj(t, TokenRequest{UserID: "ghost"}),
			wantCode: http.StatusNotFound,
			wantData: marshallObj(t, errProfileAbsent),
		},
		{
			name:     "missing user id",
			body:     []byte(`{}`),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"user_id": "this field is required"}`),
		},
		{
			name:     "known user",
			body:     marshallObj(t, TokenRequest{UserID: "adm"}),
			wantCode: http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rr := hookRequest(app, "/v1/auth/token", tt.body)
			checkCodeAndData(t, tt, app.do(t, req, rr))
		})
	}
}

func TestIdentityAPI_authRequired(t *testing.T) {
	app := setup(t)

	for _, path := range []string{"/v1/roles", "/v1/users/me", "/v1/exams/x", "/v1/submissions/x", "/v1/students/me/results"} {
		t.Run(path, func(t *testing.T) {
			req, rr := newRequest(http.MethodGet, path)
			checkCodeAndData(t, httpTest{
				wantCode: http.StatusUnauthorized,
				wantData: marshallObj(t, errMissingToken),
			}, app.do(t, req, rr))
		})
	}
}

func TestIdentityAPI_retrieve(t *testing.T) {
	app := setup(t)
	stuToken := app.newIdentity(t, "stu", role.Student)
	othToken := app.newIdentity(t, "oth", role.Student)
	tchToken := app.newIdentity(t, "tch", role.Teacher)

	tests := []httpTest{
		{name: "self", path: "/v1/users/stu", token: stuToken, wantCode: http.StatusOK},
		{name: "me alias", path: "/v1/users/me", token: stuToken, wantCode: http.StatusOK},
		{name: "teacher reads student", path: "/v1/users/stu", token: tchToken, wantCode: http.StatusOK},
		{name: "student reads other", path: "/v1/users/stu", token: othToken, wantCode: http.StatusForbidden, wantData: marshallObj(t, errPermission)},
		{name: "unknown user", path: "/v1/users/ghost", token: tchToken, wantCode: http.StatusNotFound, wantData: marshallObj(t, errProfileAbsent)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rr := newAuthRequest(http.MethodGet, tt.path, tt.token)
			checkCodeAndData(t, tt, app.do(t, req, rr))
		})
	}
}

func TestIdentityAPI_grantRole(t *testing.T) {
	app := setup(t)
	admToken := app.newIdentity(t, "adm", role.Admin)
	stuToken := app.newIdentity(t, "stu", role.Student)

	tests := []httpTest{
		{
			name:     "student cannot grant",
			path:     "/v1/users/me/roles",
			body:     []byte(`{"role": "admin"}`),
			token:    stuToken,
			wantCode: http.StatusForbidden,
			wantData: marshallObj(t, errPermission),
		},
		{
			name:     "invalid role",
			path:     "/v1/users/stu/roles",
			body:     []byte(`{"role": "janitor"}`),
			token:    admToken,
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"role": "invalid role"}`),
		},
		{
			name:     "unknown target",
			path:     "/v1/users/ghost/roles",
			body:     []byte(`{"role": "teacher"}`),
			token:    admToken,
			wantCode: http.StatusNotFound,
			wantData: marshallObj(t, errProfileAbsent),
		},
		{
			name:     "admin grants teacher",
			path:     "/v1/users/stu/roles",
			body:     []byte(`{"role": "Teacher"}`),
			token:    admToken,
			wantCode: http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rr := newAuthRequest(http.MethodPost, tt.path, tt.token, tt.body)
			checkCodeAndData(t, tt, app.do(t, req, rr))
		})
	}

	e := createExam(t, app, admToken)

	// the old token still carries the student role
	req, rr := newAuthRequest(http.MethodGet, "/v1/exams/"+e.ID+"/submissions", stuToken)
	assert.Equal(t, http.StatusForbidden, app.do(t, req, rr).Code)

	// refreshing picks up the grant
	var refreshed TokenResponse
	req, rr = newAuthRequest(http.MethodPost, "/v1/auth/token-refresh", stuToken)
	require.Equal(t, http.StatusOK, app.do(t, req, rr, &refreshed).Code)

	req, rr = newAuthRequest(http.MethodGet, "/v1/exams/"+e.ID+"/submissions", refreshed.Token)
	assert.Equal(t, http.StatusOK, app.do(t, req, rr).Code)
}

func TestIdentityAPI_refreshExpired(t *testing.T) {
	app := setup(t)
	app.newIdentity(t, "stu", role.Student)

	oriat := time.Now().Add(-app.conf.Server.JWTRefreshExpirationDelta - time.Hour).Unix()
	token, err := GenerateToken(app.conf, NewClaims(app.conf, "stu", role.Student, oriat))
	require.NoError(t, err)

	req, rr := newAuthRequest(http.MethodPost, "/v1/auth/token-refresh", token)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusForbidden,
		wantData: []byte(`{"error": "refresh has expired"}`),
	}, app.do(t, req, rr))
}

func TestIdentityAPI_queryRoles(t *testing.T) {
	app := setup(t)
	token := app.newIdentity(t, "stu", role.Student)

	req, rr := newAuthRequest(http.MethodGet, "/v1/roles", token)
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marshallObj(t, role.Roles)}, app.do(t, req, rr))
}
