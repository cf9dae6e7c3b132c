package githubauth

import "fmt"

// Kind classifies authentication failures so the pipeline driver can decide
// retry-vs-abort: network problems are worth one retry, authorization
// problems are not.
type Kind string

const (
	KindNetwork      Kind = "network"
	KindUnauthorized Kind = "unauthorized"
	KindNotInstalled Kind = "not_installed"
	KindBadKey       Kind = "bad_key"
)

// AuthError is a classified token mint/exchange failure.
type AuthError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("github auth %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func (e *AuthError) Retryable() bool { return e.Kind == KindNetwork }
