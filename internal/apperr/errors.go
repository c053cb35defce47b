package apperr

import "fmt"

// ConfigError marks a malformed workload or a missing workload file. It is
// fatal: the orchestrator refuses to run any task when one is raised.
type ConfigError struct {
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func NewConfig(msg string) *ConfigError {
	return &ConfigError{Message: msg}
}

func NewConfigWrap(msg string, err error) *ConfigError {
	return &ConfigError{Message: msg, Err: err}
}

// EncodingError marks a malformed sparse-vector encoding. Per-item and
// non-retryable: the item is counted as failed and the task continues.
type EncodingError struct {
	Message string
}

func (e *EncodingError) Error() string { return e.Message }

func NewEncoding(format string, args ...any) *EncodingError {
	return &EncodingError{Message: fmt.Sprintf(format, args...)}
}

// QuerySpecError marks a query that cannot be built, e.g. a sparse vector
// with no tokens and no lexical fallback configured.
type QuerySpecError struct {
	Message string
}

func (e *QuerySpecError) Error() string { return e.Message }

func NewQuerySpec(format string, args ...any) *QuerySpecError {
	return &QuerySpecError{Message: fmt.Sprintf(format, args...)}
}

// GeneratorError marks abnormal generator termination, as opposed to plain
// end-of-stream. Fatal to the current task: workers drain queued work and
// stop, and the task is reported as aborted.
type GeneratorError struct {
	Message string
	Err     error
}

func (e *GeneratorError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *GeneratorError) Unwrap() error {
	return e.Err
}

func NewGeneratorWrap(msg string, err error) *GeneratorError {
	return &GeneratorError{Message: msg, Err: err}
}

// HTTPError carries a non-2xx response from the cluster. Whether it is
// retryable depends on the status code.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Status, e.Body)
}

// Retryable reports whether the status indicates a transient condition:
// 429 and every 5xx. Other 4xx statuses mean the request itself is wrong
// and repeating it cannot help.
func (e *HTTPError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

func NewHTTP(status int, body string) *HTTPError {
	return &HTTPError{Status: status, Body: body}
}
