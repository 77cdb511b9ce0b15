package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody caps how much of a failed response body is kept.
const maxErrorBody = 64 << 10

// StatusError is a non-2xx response from an upstream. The body is drained and
// closed before the error is returned.
type StatusError struct {
	Upstream   string
	Method     string
	URL        string
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	return fmt.Sprintf("%s %s %s returned status %d: %s", e.Upstream, e.Method, e.URL, e.StatusCode, msg)
}

// Temporary reports whether the status is one a later attempt may not repeat.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// upstreamErrorBody covers the two envelopes seen from upstreams:
// {"error":{"code","message"}} and a bare {"error":"..."} / {"message":"..."}.
type upstreamErrorBody struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

// CheckResponse returns nil for a 2xx response. Otherwise it consumes and closes
// the body and returns a *StatusError describing it.
func CheckResponse(resp *http.Response, upstream string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	serr := &StatusError{
		Upstream:   upstream,
		StatusCode: resp.StatusCode,
	}
	if resp.Request != nil {
		serr.Method = resp.Request.Method
		serr.URL = resp.Request.URL.Redacted()
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		serr.Message = fmt.Sprintf("failed to read body: %v", err)
		return serr
	}

	var body upstreamErrorBody
	if json.Unmarshal(raw, &body) == nil {
		var structured struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		var plain string
		switch {
		case len(body.Error) > 0 && json.Unmarshal(body.Error, &structured) == nil && structured.Message != "":
			serr.Code = structured.Code
			serr.Message = structured.Message
			return serr
		case len(body.Error) > 0 && json.Unmarshal(body.Error, &plain) == nil:
			serr.Message = plain
			return serr
		case body.Message != "":
			serr.Message = body.Message
			return serr
		}
	}

	serr.Message = strings.TrimSpace(string(raw))
	if serr.Message == "" {
		serr.Message = http.StatusText(resp.StatusCode)
	}
	return serr
}
