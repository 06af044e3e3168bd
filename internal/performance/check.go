package performance

import (
	"fmt"
	"strings"
	"time"

	"github.com/wesleyorama2/surge/internal/http"
)

// Check is a named predicate over a request result.
//
// Checks never alter control flow: their outcomes are recorded in the
// checks rate metric, tagged with the check name.
type Check struct {
	Name string
	Fn   func(*http.Result) bool
}

// NewCheck creates a check.
func NewCheck(name string, fn func(*http.Result) bool) Check {
	return Check{Name: name, Fn: fn}
}

// StatusIs checks for an exact status code.
func StatusIs(status int) Check {
	return NewCheck(fmt.Sprintf("status is %d", status), func(r *http.Result) bool {
		return r.StatusCode == status
	})
}

// HasJSON checks that a gjson path exists in the body.
func HasJSON(path string) Check {
	return NewCheck("has "+path, func(r *http.Result) bool {
		return r.JSON(path).Exists()
	})
}

// BodyContains checks that the body contains s.
func BodyContains(s string) Check {
	return NewCheck(fmt.Sprintf("body contains %q", s), func(r *http.Result) bool {
		return strings.Contains(r.BodyString(), s)
	})
}

// DurationBelow checks the request duration.
func DurationBelow(d time.Duration) Check {
	return NewCheck("duration < "+d.String(), func(r *http.Result) bool {
		return r.Duration < d
	})
}

// Evaluate runs the check. A panicking predicate counts as a failure.
func (c Check) Evaluate(r *http.Result) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if r == nil || c.Fn == nil {
		return false
	}
	return c.Fn(r)
}

// Check evaluates every check against res, records each outcome and
// returns true only if all passed.
func (c *VUContext) Check(res *http.Result, checks ...Check) bool {
	all := true
	for _, ch := range checks {
		ok := ch.Evaluate(res)
		if c.vu.metrics != nil {
			c.vu.metrics.Checks.AddBool(ok, c.vu.tags.With("check", ch.Name))
		}
		all = all && ok
	}
	return all
}
