package fetchstate

import (
	"fmt"
	"net/http"
	"strings"
)

// Config is the request configuration bound to a FetchState.
type Config struct {
	Method  string            `json:"method" yaml:"method"`
	Headers map[string]string `json:"headers" yaml:"headers"`
	Body    any               `json:"body,omitempty" yaml:"body"`
}

// withDefaults fills the method and headers; everything else is passed through untouched.
func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Method) == "" {
		c.Method = http.MethodGet
	}
	if c.Headers == nil {
		c.Headers = map[string]string{}
	}
	return c
}

// Status names the lifecycle position of a State.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusLoaded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText renders the status name in JSON/YAML output.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// State is one observation of a FetchState.
type State[T any] struct {
	Payload    T      `json:"payload"`
	HasPayload bool   `json:"has_payload"`
	Pending    bool   `json:"pending"`
	Failure    string `json:"failure,omitempty"`
	Attempt    uint64 `json:"attempt"`
}

// Status derives the lifecycle position from the observed fields.
func (s State[T]) Status() Status {
	switch {
	case s.Pending:
		return StatusLoading
	case s.Failure != "":
		return StatusFailed
	case s.HasPayload:
		return StatusLoaded
	default:
		return StatusIdle
	}
}

// Failed reports whether the latest settled attempt failed.
func (s State[T]) Failed() bool { return !s.Pending && s.Failure != "" }
