package errs

import (
	"errors"
	"fmt"
)

// Error codes surfaced to clients. Store-level failures that only degrade
// presence or history freshness are absorbed at the call site and never
// reach a client as one of these.
const (
	CodeAuthFailure           = 1001
	CodeStoreUnavailable      = 1002
	CodeDurableWriteFailure   = 1003
	CodeDuplicateConversation = 1004
	CodeBadRequest            = 1005
)

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

var (
	ErrAuthFailure         = NewCodeError(CodeAuthFailure, "authentication failed")
	ErrStoreUnavailable    = NewCodeError(CodeStoreUnavailable, "store unavailable")
	ErrDurableWriteFailure = NewCodeError(CodeDurableWriteFailure, "message could not be saved")
	ErrBadRequest          = NewCodeError(CodeBadRequest, "bad request")
)

func (e *CodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("[%d] %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("[%d] %s: %s", e.Code, e.Msg, e.Detail)
}

func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: d}
}

func (e *CodeError) Is(target error) bool {
	var ce *CodeError
	if !errors.As(target, &ce) {
		return false
	}
	return ce.Code == e.Code
}

// CodeOf extracts the client-facing code from err, defaulting to
// StoreUnavailable for anything untyped.
func CodeOf(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeStoreUnavailable
}
