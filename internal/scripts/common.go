package scripts

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/wesleyorama2/surge/internal/http"
	"github.com/wesleyorama2/surge/internal/performance"
)

// tokenPath is where the API returns the access token.
const tokenPath = "data.tokens.accessToken"

// session is a logged in user.
type session struct {
	user  performance.User
	token string
}

// login posts credentials and returns the login result and the access
// token, empty when login failed. Extra headers are added to the request.
func login(ctx context.Context, vu *performance.VUContext, user performance.User, group string, headers map[string]string) (*http.Result, string) {
	req := http.Post("/auth/login", map[string]string{
		"email":    user.Email,
		"password": user.Password,
	}).WithName("login")
	if group != "" {
		req.WithTag("group", group)
	}
	for k, v := range headers {
		req.WithHeader(k, v)
	}

	res := vu.Do(ctx, req)
	if res.StatusCode != 200 {
		return res, ""
	}
	return res, res.JSON(tokenPath).String()
}

// loginRandomUser logs a random pool user in. It returns
// performance.ErrSkipIteration when login fails.
func loginRandomUser(ctx context.Context, vu *performance.VUContext, group string) (*session, error) {
	user, ok := vu.Shared().RandomUser(vu.Rand())
	if !ok {
		return nil, fmt.Errorf("user pool is empty")
	}
	res, token := login(ctx, vu, user, group, nil)
	if token == "" {
		vu.Logger().Debug("login failed, skipping iteration")
		if res.Error != nil {
			return nil, res.Error
		}
		return nil, performance.ErrSkipIteration
	}
	return &session{user: user, token: token}, nil
}

// think sleeps for a random duration in [min, max], scaled by the run's
// think time scale.
func think(ctx context.Context, vu *performance.VUContext, min, max time.Duration) bool {
	scale := thinkTimeScale(vu)
	if scale == 1 {
		return vu.SleepBetween(ctx, min, max)
	}
	d := performance.RandomDuration(vu.Rand(), min, max)
	return vu.Sleep(ctx, time.Duration(float64(d)*scale))
}

func thinkTimeScale(vu *performance.VUContext) float64 {
	raw, ok := vu.Shared().Env[EnvThinkTimeScale]
	if !ok {
		return 1
	}
	scale, err := strconv.ParseFloat(raw, 64)
	if err != nil || scale < 0 {
		return 1
	}
	return scale
}

// randomIP returns a random IPv4 address with octets in 1..254.
func randomIP(r *rand.Rand) string {
	octet := func() int { return 1 + r.Intn(254) }
	return fmt.Sprintf("%d.%d.%d.%d", octet(), octet(), octet(), octet())
}

// uniqueEmail returns an address no other VU will generate.
func uniqueEmail(prefix string) string {
	return fmt.Sprintf("%s_%s@example.com", prefix, uuid.NewString())
}

// shortID returns n random hex characters.
func shortID(n int) string {
	id := uuid.NewString()
	out := make([]byte, 0, n)
	for i := 0; i < len(id) && len(out) < n; i++ {
		if id[i] != '-' {
			out = append(out, id[i])
		}
	}
	return string(out)
}

// newTask is the body of a task create request.
func newTask(title, description string) map[string]string {
	return map[string]string{
		"title":       title,
		"description": description,
		"dueDate":     time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
		"priority":    "medium",
		"status":      "todo",
	}
}

// registration is the body of a register request.
func registration(name, email, password string) map[string]string {
	return map[string]string{
		"name":            name,
		"email":           email,
		"password":        password,
		"confirmPassword": password,
	}
}
