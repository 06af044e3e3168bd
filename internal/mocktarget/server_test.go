package mocktarget

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/surge/internal/performance"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var seedUser = performance.User{Email: "jane@example.com", Password: "Password123!", Name: "Jane"}

func serve(t *testing.T, s *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, BasePath+path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func loginToken(t *testing.T, s *Server, email, password string) string {
	t.Helper()
	w := serve(t, s, http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token := gjson.Get(w.Body.String(), "data.tokens.accessToken").String()
	require.NotEmpty(t, token)
	return token
}

func TestHealth(t *testing.T) {
	s := New(Options{})
	w := serve(t, s, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", gjson.Get(w.Body.String(), "data.status").String())
	assert.Equal(t, int64(1), s.Requests())
}

func TestLogin(t *testing.T) {
	s := New(Options{Users: []performance.User{seedUser}})

	tests := []struct {
		name     string
		email    string
		password string
		status   int
	}{
		{"valid credentials", seedUser.Email, seedUser.Password, http.StatusOK},
		{"email is case insensitive", "JANE@example.com", seedUser.Password, http.StatusOK},
		{"wrong password", seedUser.Email, "nope", http.StatusUnauthorized},
		{"unknown user", "who@example.com", "Password123!", http.StatusUnauthorized},
		{"missing password", seedUser.Email, "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, s, http.MethodPost, "/auth/login", "", map[string]string{"email": tt.email, "password": tt.password})
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status == http.StatusOK {
				body := w.Body.String()
				assert.True(t, gjson.Get(body, "data.tokens.accessToken").Exists())
				assert.True(t, gjson.Get(body, "data.tokens.refreshToken").Exists())
				assert.Equal(t, "Jane", gjson.Get(body, "data.user.name").String())
			}
		})
	}
}

func TestRegister(t *testing.T) {
	s := New(Options{Users: []performance.User{seedUser}})

	valid := map[string]string{
		"name":            "Load Test User",
		"email":           "loadtest@example.com",
		"password":        "StrongPassword123!",
		"confirmPassword": "StrongPassword123!",
	}

	w := serve(t, s, http.MethodPost, "/auth/register", "", valid)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, gjson.Get(w.Body.String(), "data.tokens.accessToken").Exists())
	assert.Equal(t, 2, s.Accounts())

	w = serve(t, s, http.MethodPost, "/auth/register", "", valid)
	assert.Equal(t, http.StatusConflict, w.Code)

	tests := []struct {
		name  string
		patch map[string]string
	}{
		{"missing name", map[string]string{"name": ""}},
		{"bad email", map[string]string{"email": "not-an-email"}},
		{"short password", map[string]string{"password": "short", "confirmPassword": "short"}},
		{"mismatched confirmation", map[string]string{"confirmPassword": "Different123!"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := map[string]string{}
			for k, v := range valid {
				body[k] = v
			}
			body["email"] = "other@example.com"
			for k, v := range tt.patch {
				body[k] = v
			}
			w := serve(t, s, http.MethodPost, "/auth/register", "", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}

	// the registered account can log in
	loginToken(t, s, valid["email"], valid["password"])
}

func TestBearerRequired(t *testing.T) {
	s := New(Options{Users: []performance.User{seedUser}})

	for _, path := range []string{"/users/profile", "/tasks", "/notes", "/activities"} {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, serve(t, s, http.MethodGet, path, "", nil).Code)
			assert.Equal(t, http.StatusUnauthorized, serve(t, s, http.MethodGet, path, "bogus", nil).Code)
		})
	}

	token := loginToken(t, s, seedUser.Email, seedUser.Password)
	w := serve(t, s, http.MethodGet, "/users/profile", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, seedUser.Email, gjson.Get(w.Body.String(), "data.email").String())
	assert.Equal(t, "Jane", gjson.Get(w.Body.String(), "data.name").String())

	for _, path := range []string{"/notes", "/activities"} {
		w := serve(t, s, http.MethodGet, path, token, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, gjson.Get(w.Body.String(), "data").IsArray())
	}
}

func TestTaskCRUD(t *testing.T) {
	s := New(Options{Users: []performance.User{seedUser}})
	token := loginToken(t, s, seedUser.Email, seedUser.Password)

	w := serve(t, s, http.MethodGet, "/tasks", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gjson.Get(w.Body.String(), "data").IsArray())
	assert.Empty(t, gjson.Get(w.Body.String(), "data").Array())

	w = serve(t, s, http.MethodPost, "/tasks", token, map[string]string{
		"title":    "Performance Test Task",
		"priority": "medium",
		"status":   "todo",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := gjson.Get(w.Body.String(), "data.id").String()
	require.NotEmpty(t, id)

	w = serve(t, s, http.MethodPut, "/tasks/"+id, token, map[string]string{"status": "in-progress", "priority": "high"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "in-progress", gjson.Get(w.Body.String(), "data.status").String())
	assert.Equal(t, "Performance Test Task", gjson.Get(w.Body.String(), "data.title").String())

	w = serve(t, s, http.MethodGet, "/tasks", token, nil)
	assert.Len(t, gjson.Get(w.Body.String(), "data").Array(), 1)

	assert.Equal(t, http.StatusBadRequest, serve(t, s, http.MethodPut, "/tasks/"+id, token, map[string]string{"status": "sideways"}).Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, s, http.MethodPost, "/tasks", token, map[string]string{"title": ""}).Code)

	assert.Equal(t, http.StatusOK, serve(t, s, http.MethodDelete, "/tasks/"+id, token, nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(t, s, http.MethodDelete, "/tasks/"+id, token, nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(t, s, http.MethodGet, "/tasks/"+id, token, nil).Code)
}

func TestTasksAreScopedToAccount(t *testing.T) {
	other := performance.User{Email: "bob@example.com", Password: "Password123!"}
	s := New(Options{Users: []performance.User{seedUser, other}})

	jane := loginToken(t, s, seedUser.Email, seedUser.Password)
	bob := loginToken(t, s, other.Email, other.Password)

	w := serve(t, s, http.MethodPost, "/tasks", jane, map[string]string{"title": "mine"})
	require.Equal(t, http.StatusCreated, w.Code)
	id := gjson.Get(w.Body.String(), "data.id").String()

	assert.Equal(t, http.StatusNotFound, serve(t, s, http.MethodGet, "/tasks/"+id, bob, nil).Code)
	assert.Empty(t, gjson.Get(serve(t, s, http.MethodGet, "/tasks", bob, nil).Body.String(), "data").Array())
}

func TestLatency(t *testing.T) {
	s := New(Options{Latency: 30 * time.Millisecond})

	start := time.Now()
	w := serve(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestUnknownRoute(t *testing.T) {
	s := New(Options{})
	w := serve(t, s, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, gjson.Get(w.Body.String(), "success").Bool())
}
