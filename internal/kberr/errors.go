// Package kberr defines the error taxonomy shared by the ingestion pipeline.
// Submit-time failures (validation, conflict) surface synchronously to the
// caller; pipeline failures are recorded on the job and exposed through the
// status API as a user-facing message, never as raw error text.
package kberr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindNetwork      Kind = "network"
	KindBotProtected Kind = "bot_protected"
	KindParse        Kind = "parse"
	KindEmbedding    Kind = "embedding_api"
	KindConflict     Kind = "conflict"
	KindInternal     Kind = "internal"
)

type Error struct {
	Kind        Kind
	Message     string
	UserMessage string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Kind: KindValidation, Message: msg, UserMessage: msg}
}

func Conflict(format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Kind: KindConflict, Message: msg, UserMessage: msg}
}

func Network(err error, format string, args ...any) *Error {
	return &Error{
		Kind:        KindNetwork,
		Message:     fmt.Sprintf(format, args...),
		UserMessage: "We could not reach that page. Please check the address and try again.",
		Err:         err,
	}
}

func BotProtected(url string) *Error {
	return &Error{
		Kind:        KindBotProtected,
		Message:     fmt.Sprintf("bot protection detected at %s", url),
		UserMessage: "This site blocks automated access. Please try a different source or paste the content as a document.",
	}
}

func Parse(err error, format string, args ...any) *Error {
	return &Error{
		Kind:        KindParse,
		Message:     fmt.Sprintf(format, args...),
		UserMessage: "We could not read that file. Please make sure it is a valid PDF.",
		Err:         err,
	}
}

func Embedding(err error, format string, args ...any) *Error {
	return &Error{
		Kind:        KindEmbedding,
		Message:     fmt.Sprintf(format, args...),
		UserMessage: "Processing is temporarily delayed. Your content will be retried shortly.",
		Err:         err,
	}
}

func Internal(err error, format string, args ...any) *Error {
	return &Error{
		Kind:        KindInternal,
		Message:     fmt.Sprintf(format, args...),
		UserMessage: "Something went wrong while processing this source. Please try again.",
		Err:         err,
	}
}

// KindOf reports the taxonomy kind of err, or KindInternal for anything
// outside the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// UserMessage returns the polite, user-facing message for err. Errors outside
// the taxonomy map to a generic message so internals never leak out.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.UserMessage != "" {
		return e.UserMessage
	}
	return "Something went wrong while processing this source. Please try again."
}

// Retryable reports whether a job that failed with err may be attempted again.
// Bot protection and parse failures are terminal; retrying them wastes quota.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindEmbedding:
		return true
	default:
		return false
	}
}
