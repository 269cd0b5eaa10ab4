// Package llm talks to vision-capable language models. Providers tag every
// failure with a Kind at the boundary so callers can decide on retry without
// inspecting transport details.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// Provider 视觉模型提供方
type Provider interface {
	Name() string
	// Complete sends one request and returns the model's raw text reply.
	Complete(ctx context.Context, req *Request) (string, error)
}

// Request is a single model invocation: instructions plus one media part.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Media        Media
}

// Media 请求中附带的文件
type Media struct {
	MIMEType string
	Data     []byte
}

// Kind classifies a provider failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransient failures may succeed on a later attempt.
	KindTransient
	// KindPermanent failures will fail again with the same request.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is a provider failure tagged with its Kind.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s failure (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s failure: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// KindForStatus classifies an HTTP status returned by a model endpoint.
func KindForStatus(status int) Kind {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return KindTransient
	}
	if status >= 400 && status < 500 {
		return KindPermanent
	}
	return KindUnknown
}

// classify tags a transport-level error. Caller cancellation stays Unknown so
// it is never retried.
func classify(provider string, err error) *Error {
	kind := KindUnknown
	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.Canceled):
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTransient
	case errors.As(err, &netErr), errors.As(err, &urlErr):
		kind = KindTransient
	}
	return &Error{Kind: kind, Provider: provider, Err: err}
}
