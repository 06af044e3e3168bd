// Package mocktarget provides an in-memory REST API shaped like the
// application the built-in scripts exercise: registration, login,
// profile, tasks, notes and activities behind bearer-token auth.
package mocktarget

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/performance"
)

// BasePath is the prefix every route is mounted under.
const BasePath = "/api/v1"

// MinPasswordLength is the shortest password registration accepts.
const MinPasswordLength = 8

const userKey = "mocktarget.user"

// Options configure a Server.
type Options struct {
	// Users are registered before the server starts
	Users []performance.User

	// Latency is added to every request
	Latency time.Duration

	Logger *zap.Logger
}

type account struct {
	ID        string
	Name      string
	Email     string
	Password  string
	CreatedAt time.Time
}

// Task is a task owned by one account.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	DueDate     string    `json:"dueDate,omitempty"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Server is the mock application. All state lives in memory.
type Server struct {
	latency time.Duration
	logger  *zap.Logger
	router  *gin.Engine

	mu       sync.RWMutex
	accounts map[string]*account         // by email
	tokens   map[string]string           // access token -> email
	tasks    map[string]map[string]*Task // email -> id -> task
	requests int64
}

// New creates a server and registers opts.Users.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		latency:  opts.Latency,
		logger:   logger.Named("target"),
		accounts: make(map[string]*account),
		tokens:   make(map[string]string),
		tasks:    make(map[string]map[string]*Task),
	}
	for _, u := range opts.Users {
		if u.Email == "" {
			continue
		}
		name := u.Name
		if name == "" {
			name = strings.SplitN(u.Email, "@", 2)[0]
		}
		s.accounts[strings.ToLower(u.Email)] = &account{
			ID:        uuid.NewString(),
			Name:      name,
			Email:     u.Email,
			Password:  u.Password,
			CreatedAt: time.Now(),
		}
	}

	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Accounts returns the number of registered accounts.
func (s *Server) Accounts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// Requests returns the number of requests served.
func (s *Server) Requests() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests(), s.delay())

	api := r.Group(BasePath)
	api.GET("/health", s.health)
	api.POST("/auth/register", s.register)
	api.POST("/auth/login", s.login)

	authed := api.Group("", s.requireBearer())
	authed.GET("/users/profile", s.profile)
	authed.GET("/tasks", s.listTasks)
	authed.POST("/tasks", s.createTask)
	authed.GET("/tasks/:id", s.getTask)
	authed.PUT("/tasks/:id", s.updateTask)
	authed.DELETE("/tasks/:id", s.deleteTask)
	authed.GET("/notes", s.notes)
	authed.GET("/activities", s.activities)

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, "route not found")
	})
	return r
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.mu.Lock()
		s.requests++
		s.mu.Unlock()

		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func (s *Server) delay() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.latency > 0 {
			timer := time.NewTimer(s.latency)
			select {
			case <-c.Request.Context().Done():
				timer.Stop()
				c.Abort()
				return
			case <-timer.C:
			}
		}
		c.Next()
	}
}

func (s *Server) requireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			fail(c, http.StatusUnauthorized, "missing or invalid authorization header")
			return
		}

		s.mu.RLock()
		email, found := s.tokens[token]
		acc := s.accounts[email]
		s.mu.RUnlock()

		if !found || acc == nil {
			fail(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		c.Set(userKey, acc)
		c.Next()
	}
}

func currentAccount(c *gin.Context) *account {
	acc, _ := c.MustGet(userKey).(*account)
	return acc
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": message})
}

func (s *Server) health(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

type registerRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	switch {
	case req.Name == "":
		fail(c, http.StatusBadRequest, "name is required")
		return
	case !strings.Contains(req.Email, "@"):
		fail(c, http.StatusBadRequest, "a valid email is required")
		return
	case len(req.Password) < MinPasswordLength:
		fail(c, http.StatusBadRequest, "password is too short")
		return
	case req.ConfirmPassword != "" && req.ConfirmPassword != req.Password:
		fail(c, http.StatusBadRequest, "passwords do not match")
		return
	}

	key := strings.ToLower(req.Email)
	acc := &account{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Email:     req.Email,
		Password:  req.Password,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	if _, exists := s.accounts[key]; exists {
		s.mu.Unlock()
		fail(c, http.StatusConflict, "email already registered")
		return
	}
	s.accounts[key] = acc
	tokens := s.issueTokensLocked(key)
	s.mu.Unlock()

	ok(c, http.StatusCreated, gin.H{"user": acc.view(), "tokens": tokens})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		fail(c, http.StatusBadRequest, "email and password are required")
		return
	}

	key := strings.ToLower(req.Email)

	s.mu.Lock()
	acc, found := s.accounts[key]
	if !found || acc.Password != req.Password {
		s.mu.Unlock()
		fail(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	tokens := s.issueTokensLocked(key)
	s.mu.Unlock()

	ok(c, http.StatusOK, gin.H{"user": acc.view(), "tokens": tokens})
}

func (s *Server) issueTokensLocked(email string) gin.H {
	access := uuid.NewString()
	s.tokens[access] = email
	return gin.H{"accessToken": access, "refreshToken": uuid.NewString()}
}

func (a *account) view() gin.H {
	return gin.H{
		"id":        a.ID,
		"name":      a.Name,
		"email":     a.Email,
		"createdAt": a.CreatedAt,
	}
}

func (s *Server) profile(c *gin.Context) {
	ok(c, http.StatusOK, currentAccount(c).view())
}

func (s *Server) listTasks(c *gin.Context) {
	acc := currentAccount(c)

	s.mu.RLock()
	owned := s.tasks[strings.ToLower(acc.Email)]
	list := make([]Task, 0, len(owned))
	for _, t := range owned {
		list = append(list, *t)
	}
	s.mu.RUnlock()

	ok(c, http.StatusOK, list)
}

type taskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	DueDate     *string `json:"dueDate"`
	Priority    *string `json:"priority"`
	Status      *string `json:"status"`
}

var (
	validPriorities = map[string]bool{"low": true, "medium": true, "high": true}
	validStatuses   = map[string]bool{"todo": true, "in-progress": true, "done": true}
)

func (r *taskRequest) validate() error {
	if r.Priority != nil && !validPriorities[*r.Priority] {
		return errors.New("invalid priority")
	}
	if r.Status != nil && !validStatuses[*r.Status] {
		return errors.New("invalid status")
	}
	return nil
}

func (r *taskRequest) apply(t *Task) {
	if r.Title != nil {
		t.Title = *r.Title
	}
	if r.Description != nil {
		t.Description = *r.Description
	}
	if r.DueDate != nil {
		t.DueDate = *r.DueDate
	}
	if r.Priority != nil {
		t.Priority = *r.Priority
	}
	if r.Status != nil {
		t.Status = *r.Status
	}
}

func (s *Server) createTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == nil || *req.Title == "" {
		fail(c, http.StatusBadRequest, "title is required")
		return
	}
	if err := req.validate(); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	task := &Task{
		ID:        uuid.NewString(),
		Priority:  "medium",
		Status:    "todo",
		CreatedAt: now,
		UpdatedAt: now,
	}
	req.apply(task)

	key := strings.ToLower(currentAccount(c).Email)
	s.mu.Lock()
	if s.tasks[key] == nil {
		s.tasks[key] = make(map[string]*Task)
	}
	s.tasks[key][task.ID] = task
	created := *task
	s.mu.Unlock()

	ok(c, http.StatusCreated, created)
}

func (s *Server) getTask(c *gin.Context) {
	key := strings.ToLower(currentAccount(c).Email)

	s.mu.RLock()
	task, found := s.tasks[key][c.Param("id")]
	var out Task
	if found {
		out = *task
	}
	s.mu.RUnlock()

	if !found {
		fail(c, http.StatusNotFound, "task not found")
		return
	}
	ok(c, http.StatusOK, out)
}

func (s *Server) updateTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	key := strings.ToLower(currentAccount(c).Email)

	s.mu.Lock()
	task, found := s.tasks[key][c.Param("id")]
	var out Task
	if found {
		req.apply(task)
		task.UpdatedAt = time.Now().UTC()
		out = *task
	}
	s.mu.Unlock()

	if !found {
		fail(c, http.StatusNotFound, "task not found")
		return
	}
	ok(c, http.StatusOK, out)
}

func (s *Server) deleteTask(c *gin.Context) {
	key := strings.ToLower(currentAccount(c).Email)
	id := c.Param("id")

	s.mu.Lock()
	_, found := s.tasks[key][id]
	if found {
		delete(s.tasks[key], id)
	}
	s.mu.Unlock()

	if !found {
		fail(c, http.StatusNotFound, "task not found")
		return
	}
	ok(c, http.StatusOK, gin.H{"id": id})
}

func (s *Server) notes(c *gin.Context) {
	acc := currentAccount(c)
	ok(c, http.StatusOK, []gin.H{
		{"id": "note-1", "title": "Welcome", "content": "Hello " + acc.Name},
		{"id": "note-2", "title": "Ideas", "content": ""},
	})
}

func (s *Server) activities(c *gin.Context) {
	acc := currentAccount(c)

	s.mu.RLock()
	count := len(s.tasks[strings.ToLower(acc.Email)])
	s.mu.RUnlock()

	ok(c, http.StatusOK, []gin.H{
		{"type": "login", "user": acc.ID, "at": time.Now().UTC()},
		{"type": "tasks", "user": acc.ID, "open": count},
	})
}

// ListenAndServe serves the API on addr until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("mock target listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("base_url", "http://"+ln.Addr().String()+BasePath),
	)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
