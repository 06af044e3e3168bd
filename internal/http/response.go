package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// Timing breaks a request's duration into phases.
type Timing struct {
	// Connecting is the time spent establishing the TCP connection.
	Connecting time.Duration `json:"connecting"`
	// TLSHandshaking is the time spent on the TLS handshake.
	TLSHandshaking time.Duration `json:"tlsHandshaking"`
	// Waiting is the time from the request being written to the first
	// response byte.
	Waiting time.Duration `json:"waiting"`
	// Receiving is the time spent reading the response body.
	Receiving time.Duration `json:"receiving"`
}

// Result is the outcome of one request.
//
// A Result is produced for every request, including transport failures, in
// which case StatusCode is 0, Succeeded is false and Error is set.
type Result struct {
	Method string       `json:"method"`
	URL    string       `json:"url"`
	Tags   metrics.Tags `json:"tags"`

	StatusCode int         `json:"status"`
	Status     string      `json:"statusText,omitempty"`
	Headers    http.Header `json:"-"`
	Body       []byte      `json:"-"`

	// Duration runs from sending the request to the full response body
	// being received.
	Duration time.Duration `json:"duration"`
	Timing   Timing        `json:"timing"`

	BodyBytes     int64 `json:"bodyBytes"`
	BytesSent     int64 `json:"bytesSent"`
	BytesReceived int64 `json:"bytesReceived"`

	Succeeded bool  `json:"succeeded"`
	Error     error `json:"-"`
}

// DurationMillis returns the duration in fractional milliseconds.
func (r *Result) DurationMillis() float64 {
	return metrics.Millis(r.Duration)
}

// JSON returns the value at a gjson path in the response body, e.g.
// "data.tokens.accessToken".
func (r *Result) JSON(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// Decode unmarshals the response body into v.
func (r *Result) Decode(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// BodyString returns the response body as a string.
func (r *Result) BodyString() string {
	return string(r.Body)
}

// Header returns a response header value.
func (r *Result) Header(key string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(key)
}

// IsSuccess returns true if the status code is 2xx.
func (r *Result) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsClientError returns true if the status code is 4xx.
func (r *Result) IsClientError() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500
}

// IsServerError returns true if the status code is 5xx.
func (r *Result) IsServerError() bool {
	return r.StatusCode >= 500
}

// IsTransportError returns true if no response was received.
func (r *Result) IsTransportError() bool {
	return r.StatusCode == 0
}
