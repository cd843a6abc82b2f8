package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type ErrorKind string

const (
	KindConfig     ErrorKind = "config"
	KindNetwork    ErrorKind = "network"
	KindHTTPStatus ErrorKind = "http_status"
	KindParse      ErrorKind = "parse"
	KindAllocation ErrorKind = "allocation"
	KindCancelled  ErrorKind = "cancelled"
	KindEncode     ErrorKind = "encode"
)

// Error is the single error type returned by this package. Callers match
// the kind with errors.Is against the Err* sentinels.
type Error struct {
	Kind       ErrorKind
	Provider   Provider
	StatusCode int
	Message    string
	Err        error
}

var (
	ErrConfig     = &Error{Kind: KindConfig}
	ErrNetwork    = &Error{Kind: KindNetwork}
	ErrHTTPStatus = &Error{Kind: KindHTTPStatus}
	ErrParse      = &Error{Kind: KindParse}
	ErrAllocation = &Error{Kind: KindAllocation}
	ErrCancelled  = &Error{Kind: KindCancelled}
	ErrEncode     = &Error{Kind: KindEncode}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("llm")
	if e.Provider != "" {
		b.WriteString(" ")
		b.WriteString(string(e.Provider))
	}
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil && e.Message == "" {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func configError(p Provider, format string, args ...any) error {
	return &Error{Kind: KindConfig, Provider: p, Message: fmt.Sprintf(format, args...)}
}

func encodeError(p Provider, msg string, err error) error {
	return &Error{Kind: KindEncode, Provider: p, Message: msg, Err: err}
}

func networkError(p Provider, msg string, err error) error {
	return &Error{Kind: KindNetwork, Provider: p, Message: msg, Err: err}
}

func parseError(p Provider, msg string, err error) error {
	return &Error{Kind: KindParse, Provider: p, Message: msg, Err: err}
}

func statusError(p Provider, code int, msg string) error {
	return &Error{Kind: KindHTTPStatus, Provider: p, StatusCode: code, Message: msg}
}

// NewAllocationError reports a chunk that could not be constructed.
func NewAllocationError(msg string) error {
	return &Error{Kind: KindAllocation, Message: msg}
}

// NewCancelledError wraps the cause of a cancelled request.
func NewCancelledError(p Provider, cause error) error {
	return &Error{Kind: KindCancelled, Provider: p, Message: "request cancelled", Err: cause}
}

const maxErrorBody = 4096

// readProviderError turns a non-2xx response into an http_status Error
// carrying the provider's plain error message, never its raw body.
func readProviderError(p Provider, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := providerMessage(body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	if msg == "" {
		msg = "unexpected status"
	}
	return statusError(p, resp.StatusCode, msg)
}

// providerMessage extracts error.message (OpenAI, Anthropic) or a plain
// error string (Ollama) from an error body.
func providerMessage(body []byte) string {
	var env struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	if msg := errorText(env.Error); msg != "" {
		return msg
	}
	return strings.TrimSpace(env.Message)
}

func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return strings.TrimSpace(obj.Message)
		}
		return obj.Type
	}
	return ""
}
