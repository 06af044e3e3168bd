// Package threshold parses and evaluates pass/fail criteria over metrics.
//
// A threshold is attached to a metric selector such as
// "http_req_duration" or "http_req_duration{endpoint:profile}" and holds
// one or more expressions:
//
//	p(95)<300
//	avg<=200ms
//	rate<0.01
//	count>1000
//
// Expressions are parsed once, before any load is generated. A malformed
// expression is a setup error.
package threshold

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Operator is a comparison operator.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// Compare applies the operator to actual and limit.
func (o Operator) Compare(actual, limit float64) bool {
	switch o {
	case OpLess:
		return actual < limit
	case OpLessEqual:
		return actual <= limit
	case OpGreater:
		return actual > limit
	case OpGreaterEqual:
		return actual >= limit
	case OpEqual:
		return actual == limit
	case OpNotEqual:
		return actual != limit
	default:
		return false
	}
}

// Expr is a parsed threshold expression.
type Expr struct {
	// Source is the expression as written
	Source string

	// Stat is the canonical statistic name: avg, min, max, med, count,
	// rate, value or p(N)
	Stat string

	// Percentile is N for p(N) statistics
	Percentile float64

	Op Operator

	// Value is the limit as written, before unit conversion
	Value float64

	// Unit is the optional time unit of Value (us, ms, s, m)
	Unit string
}

var exprRE = regexp.MustCompile(
	`^\s*(avg|min|max|med|count|rate|value|p\(\s*(\d+(?:\.\d+)?)\s*\)|p(\d+(?:\.\d+)?))\s*(<=|>=|==|!=|<|>)\s*(-?\d+(?:\.\d+)?(?:[eE][-+]?\d+)?)\s*(us|µs|ms|s|m)?\s*$`,
)

// ParseExpr parses a single expression such as "p(95)<300".
func ParseExpr(s string) (*Expr, error) {
	m := exprRE.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("invalid threshold expression %q: expected <stat><op><value>, e.g. p(95)<300", s)
	}

	e := &Expr{
		Source: strings.TrimSpace(s),
		Stat:   m[1],
		Op:     Operator(m[4]),
		Unit:   m[6],
	}

	pct := m[2]
	if pct == "" {
		pct = m[3]
	}
	if pct != "" {
		p, err := strconv.ParseFloat(pct, 64)
		if err != nil || p < 0 || p > 100 {
			return nil, fmt.Errorf("invalid percentile in %q: must be between 0 and 100", s)
		}
		e.Percentile = p
		e.Stat = "p(" + strconv.FormatFloat(p, 'f', -1, 64) + ")"
	}

	v, err := strconv.ParseFloat(m[5], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid value in %q: %w", s, err)
	}
	e.Value = v
	if e.Unit == "µs" {
		e.Unit = "us"
	}
	return e, nil
}

// IsPercentile reports whether the statistic is a p(N) query.
func (e *Expr) IsPercentile() bool {
	return strings.HasPrefix(e.Stat, "p(")
}

// Limit returns the limit in the metric's unit. Time limits are
// milliseconds.
func (e *Expr) Limit() float64 {
	switch e.Unit {
	case "us":
		return e.Value / 1000
	case "s":
		return e.Value * 1000
	case "m":
		return e.Value * 60 * 1000
	default:
		return e.Value
	}
}

// String returns the expression as written.
func (e *Expr) String() string {
	return e.Source
}

// Definition is one configured threshold: an expression plus abort
// behaviour. It unmarshals from either a plain string or an object
// {"threshold": "...", "abortOnFail": true, "delayAbortEval": "10s"}.
type Definition struct {
	Threshold      string        `json:"threshold" yaml:"threshold"`
	AbortOnFail    bool          `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
	DelayAbortEval time.Duration `json:"-" yaml:"-"`
}

type definitionObject struct {
	Threshold      string `json:"threshold" yaml:"threshold"`
	AbortOnFail    bool   `json:"abortOnFail" yaml:"abortOnFail"`
	DelayAbortEval string `json:"delayAbortEval" yaml:"delayAbortEval"`
}

func (d *Definition) fromObject(o definitionObject) error {
	d.Threshold = o.Threshold
	d.AbortOnFail = o.AbortOnFail
	d.DelayAbortEval = 0
	if o.DelayAbortEval != "" {
		delay, err := time.ParseDuration(o.DelayAbortEval)
		if err != nil {
			return fmt.Errorf("invalid delayAbortEval %q: %w", o.DelayAbortEval, err)
		}
		d.DelayAbortEval = delay
	}
	return nil
}

func (d Definition) toObject() definitionObject {
	o := definitionObject{Threshold: d.Threshold, AbortOnFail: d.AbortOnFail}
	if d.DelayAbortEval > 0 {
		o.DelayAbortEval = d.DelayAbortEval.String()
	}
	return o
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Definition) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*d = Definition{Threshold: s}
		return nil
	}
	var o definitionObject
	if err := json.Unmarshal(b, &o); err != nil {
		return fmt.Errorf("threshold must be a string or an object: %w", err)
	}
	return d.fromObject(o)
}

// MarshalJSON implements json.Marshaler.
func (d Definition) MarshalJSON() ([]byte, error) {
	if !d.AbortOnFail && d.DelayAbortEval == 0 {
		return marshalPlain(d.Threshold)
	}
	return marshalPlain(d.toObject())
}

// marshalPlain encodes v without HTML escaping, so "p(95)<300" stays
// readable.
func marshalPlain(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Definition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*d = Definition{Threshold: node.Value}
		return nil
	}
	var o definitionObject
	if err := node.Decode(&o); err != nil {
		return fmt.Errorf("threshold must be a string or a mapping: %w", err)
	}
	return d.fromObject(o)
}

// MarshalYAML implements yaml.Marshaler.
func (d Definition) MarshalYAML() (interface{}, error) {
	if !d.AbortOnFail && d.DelayAbortEval == 0 {
		return d.Threshold, nil
	}
	return d.toObject(), nil
}

// Threshold is a parsed threshold bound to a metric selector.
type Threshold struct {
	// Selector is the metric key as configured, e.g. "checks{check:login}"
	Selector string

	Expr           *Expr
	AbortOnFail    bool
	DelayAbortEval time.Duration
}

// ParseError reports a threshold that could not be parsed or bound.
type ParseError struct {
	Key    string
	Expr   string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Expr == "" {
		return fmt.Sprintf("threshold %q: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("threshold %q on %q: %s", e.Expr, e.Key, e.Reason)
}

// Parse parses every definition configured for selector.
func Parse(selector string, defs []Definition) ([]*Threshold, error) {
	out := make([]*Threshold, 0, len(defs))
	for _, d := range defs {
		expr, err := ParseExpr(d.Threshold)
		if err != nil {
			return nil, &ParseError{Key: selector, Expr: d.Threshold, Reason: err.Error()}
		}
		if d.DelayAbortEval < 0 {
			return nil, &ParseError{Key: selector, Expr: d.Threshold, Reason: "delayAbortEval must be >= 0"}
		}
		out = append(out, &Threshold{
			Selector:       selector,
			Expr:           expr,
			AbortOnFail:    d.AbortOnFail,
			DelayAbortEval: d.DelayAbortEval,
		})
	}
	return out, nil
}
