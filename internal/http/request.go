package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// Request describes a single tagged HTTP request.
type Request struct {
	Method      string
	Path        string
	QueryParams url.Values
	Headers     map[string]string
	Body        interface{}

	// Tags are attached to every metric sample of this request.
	Tags metrics.Tags

	// ExpectedStatuses lists the status codes that count as success. When
	// empty, any status in [200, 400) succeeds.
	ExpectedStatuses []int
}

// NewRequest creates a new request. path may be relative to the client's
// base URL or an absolute URL.
func NewRequest(method, path string) *Request {
	return &Request{
		Method:      method,
		Path:        path,
		QueryParams: make(url.Values),
		Headers:     make(map[string]string),
		Tags:        make(metrics.Tags),
	}
}

// Get creates a GET request.
func Get(path string) *Request {
	return NewRequest(http.MethodGet, path)
}

// Post creates a POST request with a body.
func Post(path string, body interface{}) *Request {
	return NewRequest(http.MethodPost, path).WithBody(body)
}

// Put creates a PUT request with a body.
func Put(path string, body interface{}) *Request {
	return NewRequest(http.MethodPut, path).WithBody(body)
}

// Delete creates a DELETE request.
func Delete(path string) *Request {
	return NewRequest(http.MethodDelete, path)
}

// WithHeader adds a header to the request
func (r *Request) WithHeader(key, value string) *Request {
	r.Headers[key] = value
	return r
}

// WithBearer sets the Authorization header to a bearer token.
func (r *Request) WithBearer(token string) *Request {
	return r.WithHeader("Authorization", "Bearer "+token)
}

// WithQueryParam adds a query parameter to the request
func (r *Request) WithQueryParam(key, value string) *Request {
	r.QueryParams.Add(key, value)
	return r
}

// WithBody sets the body of the request
func (r *Request) WithBody(body interface{}) *Request {
	r.Body = body
	return r
}

// WithTag attaches a metric tag to the request.
func (r *Request) WithTag(key, value string) *Request {
	r.Tags[key] = value
	return r
}

// WithName tags the request with a "name", used to group requests whose
// URLs differ (e.g. /tasks/{id}).
func (r *Request) WithName(name string) *Request {
	return r.WithTag("name", name)
}

// Expect sets the status codes counted as success.
func (r *Request) Expect(statuses ...int) *Request {
	r.ExpectedStatuses = append(r.ExpectedStatuses[:0], statuses...)
	return r
}

// IsExpected reports whether status counts as success for this request.
func (r *Request) IsExpected(status int) bool {
	if len(r.ExpectedStatuses) == 0 {
		return status >= 200 && status < 400
	}
	for _, s := range r.ExpectedStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// URL resolves the request URL against baseURL.
func (r *Request) URL(baseURL string) (*url.URL, error) {
	var reqURL *url.URL
	var err error

	if strings.HasPrefix(r.Path, "http://") || strings.HasPrefix(r.Path, "https://") || baseURL == "" {
		reqURL, err = url.Parse(r.Path)
		if err != nil {
			return nil, err
		}
	} else {
		reqURL, err = url.Parse(baseURL)
		if err != nil {
			return nil, err
		}

		// Join the base URL path with the request path
		path, rawQuery, _ := strings.Cut(r.Path, "?")
		if reqURL.Path == "" {
			reqURL.Path = "/" + strings.TrimLeft(path, "/")
		} else {
			reqURL.Path = strings.TrimRight(reqURL.Path, "/") + "/" + strings.TrimLeft(path, "/")
		}
		if rawQuery != "" {
			reqURL.RawQuery = rawQuery
		}
	}

	if len(r.QueryParams) > 0 {
		query := reqURL.Query()
		for key, values := range r.QueryParams {
			for _, value := range values {
				query.Add(key, value)
			}
		}
		reqURL.RawQuery = query.Encode()
	}

	return reqURL, nil
}

// Build constructs an http.Request bound to ctx. It also returns the body
// length in bytes.
func (r *Request) Build(ctx context.Context, baseURL string) (*http.Request, int64, error) {
	reqURL, err := r.URL(baseURL)
	if err != nil {
		return nil, 0, err
	}

	// Prepare the body
	var payload []byte
	contentType := ""
	if r.Body != nil {
		switch body := r.Body.(type) {
		case string:
			payload = []byte(body)
		case []byte:
			payload = body
		case io.Reader:
			payload, err = io.ReadAll(body)
			if err != nil {
				return nil, 0, err
			}
		default:
			// Anything else is sent as JSON
			payload, err = json.Marshal(body)
			if err != nil {
				return nil, 0, err
			}
			contentType = "application/json"
		}
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, reqURL.String(), bodyReader)
	if err != nil {
		return nil, 0, err
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}

	return req, int64(len(payload)), nil
}
