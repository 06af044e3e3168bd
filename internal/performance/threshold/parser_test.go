package threshold

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestParseExpr(t *testing.T) {
	tests := []struct {
		in         string
		stat       string
		percentile float64
		op         Operator
		limit      float64
	}{
		{"p(95)<300", "p(95)", 95, OpLess, 300},
		{"p(99.9) <= 1.5s", "p(99.9)", 99.9, OpLessEqual, 1500},
		{"p95 < 500ms", "p(95)", 95, OpLess, 500},
		{"rate<0.01", "rate", 0, OpLess, 0.01},
		{"count>1000", "count", 0, OpGreater, 1000},
		{"avg >= 200", "avg", 0, OpGreaterEqual, 200},
		{"med==100", "med", 0, OpEqual, 100},
		{"value!=0", "value", 0, OpNotEqual, 0},
		{"max<250us", "max", 0, OpLess, 0.25},
		{"min<1m", "min", 0, OpLess, 60000},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			e, err := ParseExpr(tt.in)
			if err != nil {
				t.Fatalf("ParseExpr() error = %v", err)
			}
			if e.Stat != tt.stat {
				t.Errorf("Stat = %q, want %q", e.Stat, tt.stat)
			}
			if e.Percentile != tt.percentile {
				t.Errorf("Percentile = %v, want %v", e.Percentile, tt.percentile)
			}
			if e.Op != tt.op {
				t.Errorf("Op = %q, want %q", e.Op, tt.op)
			}
			if e.Limit() != tt.limit {
				t.Errorf("Limit() = %v, want %v", e.Limit(), tt.limit)
			}
		})
	}
}

func TestParseExpr_Invalid(t *testing.T) {
	tests := []string{
		"",
		"p(95)",
		"p(95)<",
		"p(101)<300",
		"p95 => 300",
		"avg < fast",
		"mean<300",
		"rate<0.01 extra",
		"p(95)<300h",
	}

	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			if _, err := ParseExpr(in); err == nil {
				t.Errorf("ParseExpr(%q) error = nil, want error", in)
			}
		})
	}
}

func TestOperator_Compare(t *testing.T) {
	tests := []struct {
		op     Operator
		actual float64
		want   bool
	}{
		{OpLess, 250, true},
		{OpLess, 300, false},
		{OpLessEqual, 300, true},
		{OpGreater, 301, true},
		{OpGreaterEqual, 300, true},
		{OpEqual, 300, true},
		{OpNotEqual, 300, false},
		{Operator("=~"), 300, false},
	}

	for _, tt := range tests {
		if got := tt.op.Compare(tt.actual, 300); got != tt.want {
			t.Errorf("%v %s 300 = %v, want %v", tt.actual, tt.op, got, tt.want)
		}
	}
}

func TestDefinition_UnmarshalJSON(t *testing.T) {
	var defs []Definition
	in := `["p(95)<300", {"threshold": "rate<0.01", "abortOnFail": true, "delayAbortEval": "10s"}]`
	if err := json.Unmarshal([]byte(in), &defs); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if len(defs) != 2 {
		t.Fatalf("len = %d, want 2", len(defs))
	}
	if defs[0].Threshold != "p(95)<300" || defs[0].AbortOnFail {
		t.Errorf("defs[0] = %+v", defs[0])
	}
	if defs[1].Threshold != "rate<0.01" || !defs[1].AbortOnFail || defs[1].DelayAbortEval != 10*time.Second {
		t.Errorf("defs[1] = %+v", defs[1])
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(defs); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want := `["p(95)<300",{"threshold":"rate<0.01","abortOnFail":true,"delayAbortEval":"10s"}]`
	if got := strings.TrimSpace(buf.String()); got != want {
		t.Errorf("Encode() = %s, want %s", got, want)
	}

	var back []Definition
	if err := json.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatalf("Unmarshal() of encoded error = %v", err)
	}
	if !reflect.DeepEqual(back, defs) {
		t.Errorf("round trip = %+v, want %+v", back, defs)
	}

	if err := json.Unmarshal([]byte(`[{"threshold": "rate<1", "delayAbortEval": "soon"}]`), &defs); err == nil {
		t.Error("Unmarshal() with bad delayAbortEval error = nil")
	}
}

func TestDefinition_UnmarshalYAML(t *testing.T) {
	in := `
- p(95)<300
- threshold: rate<0.01
  abortOnFail: true
`
	var defs []Definition
	if err := yaml.Unmarshal([]byte(in), &defs); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(defs) != 2 || defs[0].Threshold != "p(95)<300" || !defs[1].AbortOnFail {
		t.Errorf("defs = %+v", defs)
	}
}

func TestParse_ReportsKeyAndExpression(t *testing.T) {
	_, err := Parse("http_req_duration", []Definition{{Threshold: "p(95)<300"}, {Threshold: "p95 ~ 3"}})

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("Parse() error = %v, want *ParseError", err)
	}
	if pe.Key != "http_req_duration" || pe.Expr != "p95 ~ 3" {
		t.Errorf("ParseError = %+v", pe)
	}
}
