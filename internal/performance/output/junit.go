package output

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/wesleyorama2/surge/internal/performance/engine"
)

// JUnitTestSuites represents the root element containing all test suites
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite represents a JUnit test suite
type JUnitTestSuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Time      float64         `xml:"time,attr"`
	Timestamp string          `xml:"timestamp,attr"`
	TestCases []JUnitTestCase `xml:"testcase"`
	SystemOut string          `xml:"system-out,omitempty"`
}

// JUnitTestCase represents a JUnit test case
type JUnitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
}

// JUnitFailure represents a JUnit test failure
type JUnitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Content string `xml:",chardata"`
}

// NewJUnitReport turns a run's threshold verdicts into one test suite, a
// test case per threshold. An aborted run adds an error.
func NewJUnitReport(result *engine.TestResult) *JUnitTestSuites {
	suite := JUnitTestSuite{
		Name:      displayName(result),
		Tests:     len(result.Thresholds),
		Time:      result.Duration.Seconds(),
		Timestamp: result.StartTime.Format(time.RFC3339),
		TestCases: []JUnitTestCase{},
	}

	for _, t := range result.Thresholds {
		tc := JUnitTestCase{
			Name:      fmt.Sprintf("%s %s", t.Metric, t.Expression),
			Classname: "surge." + suite.Name,
		}
		if !t.Passed {
			tc.Failure = &JUnitFailure{
				Message: fmt.Sprintf("%s observed %s", t.Expression, formatObserved(t)),
				Type:    "ThresholdFailure",
				Content: fmt.Sprintf("%s: %s = %g, limit %g", t.Metric, t.Stat, t.Observed, t.Limit),
			}
			suite.Failures++
		}
		suite.TestCases = append(suite.TestCases, tc)
	}

	if result.Aborted {
		suite.Errors++
		suite.SystemOut = "run aborted: " + result.AbortReason
	}

	return &JUnitTestSuites{TestSuites: []JUnitTestSuite{suite}}
}

// WriteJUnit writes the JUnit XML report of result to w.
func WriteJUnit(w io.Writer, result *engine.TestResult) error {
	out, err := xml.MarshalIndent(NewJUnitReport(result), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode junit report: %w", err)
	}
	if _, err := io.WriteString(w, xml.Header+string(out)+"\n"); err != nil {
		return err
	}
	return nil
}

// WriteJUnitFile writes the JUnit XML report of result to path.
func WriteJUnitFile(path string, result *engine.TestResult) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := WriteJUnit(f, result); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
