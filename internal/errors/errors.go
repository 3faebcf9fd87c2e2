// Package errors provides the structured error taxonomy shared by the tag
// registry, the fingerprint cache, the state sequencer and the render
// pipeline.
//
// Every failure is a *TagError carrying a Kind and a Code. Kinds decide how
// the failure is reported (fatal at startup, watcher event, HTTP 500) while
// the Message is the short, non-sensitive text that may reach an HTTP
// client. Causes and file-system paths are kept for logs only.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a TagError.
type Kind string

const (
	KindAssetRead     Kind = "asset"
	KindCompile       Kind = "compile"
	KindDuplicateName Kind = "duplicate"
	KindUnknownUnit   Kind = "unknown_unit"
	KindAction        Kind = "action"
	KindConfig        Kind = "config"
	KindInternal      Kind = "internal"
)

// Common error codes.
const (
	ErrCodeAssetRead     = "ERR_ASSET_READ"
	ErrCodeCompileFailed = "ERR_COMPILE_FAILED"
	ErrCodeSourceRead    = "ERR_SOURCE_READ"
	ErrCodeDuplicateName = "ERR_DUPLICATE_NAME"
	ErrCodeUnknownUnit   = "ERR_UNKNOWN_UNIT"
	ErrCodeActionFailed  = "ERR_ACTION_FAILED"
	ErrCodeConfigInvalid = "ERR_CONFIG_INVALID"
	ErrCodeInternal      = "ERR_INTERNAL"
	ErrCodeRenderPanic   = "ERR_RENDER_PANIC"
)

// TagError is a structured error with context.
type TagError struct {
	Kind     Kind
	Code     string
	Message  string
	Cause    error
	Context  map[string]interface{}
	Unit     string
	FilePath string
	Line     int
	Column   int
}

// Error implements the error interface.
func (e *TagError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Unit != "" {
		parts = append(parts, "tag:"+e.Unit)
	}

	if e.FilePath != "" {
		location := e.FilePath
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *TagError) Unwrap() error {
	return e.Cause
}

// Is matches another TagError with the same kind and code.
func (e *TagError) Is(target error) bool {
	var t *TagError
	if errors.As(target, &t) {
		return e.Kind == t.Kind && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *TagError) WithContext(key string, value interface{}) *TagError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithLocation adds file location information.
func (e *TagError) WithLocation(filePath string, line, column int) *TagError {
	e.FilePath = filePath
	e.Line = line
	e.Column = column

	return e
}

// WithUnit adds the tag name the error relates to.
func (e *TagError) WithUnit(name string) *TagError {
	e.Unit = name

	return e
}

// NewAssetReadError reports a static asset that could not be fingerprinted.
// path is the identifier shown to clients, so callers pass the URL path and
// keep the file-system path in the cause.
func NewAssetReadError(path string, cause error) *TagError {
	return &TagError{
		Kind:    KindAssetRead,
		Code:    ErrCodeAssetRead,
		Message: "cannot read asset " + path,
		Cause:   cause,
	}
}

// NewCompileError wraps a compiler diagnostic for a tag source file.
func NewCompileError(filePath string, cause error) *TagError {
	return &TagError{
		Kind:     KindCompile,
		Code:     ErrCodeCompileFailed,
		Message:  "compilation failed",
		Cause:    cause,
		FilePath: filePath,
	}
}

// NewSourceReadError reports a tag source file that could not be read.
func NewSourceReadError(filePath string, cause error) *TagError {
	return &TagError{
		Kind:     KindCompile,
		Code:     ErrCodeSourceRead,
		Message:  "cannot read tag source",
		Cause:    cause,
		FilePath: filePath,
	}
}

// NewDuplicateNameError reports two different files declaring one tag name.
func NewDuplicateNameError(name, existingPath, newPath string) *TagError {
	e := &TagError{
		Kind: KindDuplicateName,
		Code: ErrCodeDuplicateName,
		Message: fmt.Sprintf("duplicated tag %s found in files %s and %s",
			name, existingPath, newPath),
		Unit:     name,
		FilePath: newPath,
	}

	return e.WithContext("existing_path", existingPath)
}

// NewUnknownUnitError reports a render request for an unregistered tag.
func NewUnknownUnitError(name string) *TagError {
	return &TagError{
		Kind:    KindUnknownUnit,
		Code:    ErrCodeUnknownUnit,
		Message: "unknown tag " + name,
		Unit:    name,
	}
}

// NewActionError wraps the failure of the action at index in a dispatch sequence.
func NewActionError(index int, actionType string, cause error) *TagError {
	e := &TagError{
		Kind:    KindAction,
		Code:    ErrCodeActionFailed,
		Message: fmt.Sprintf("action %d (%s) failed", index, actionType),
		Cause:   cause,
	}

	return e.WithContext("index", index).WithContext("action", actionType)
}

// NewConfigError creates a configuration error.
func NewConfigError(message string) *TagError {
	return &TagError{
		Kind:    KindConfig,
		Code:    ErrCodeConfigInvalid,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *TagError {
	return &TagError{
		Kind:    KindInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func kindOf(err error) (Kind, bool) {
	var te *TagError
	if errors.As(err, &te) {
		return te.Kind, true
	}

	return "", false
}

// IsAssetRead reports whether err is an asset read failure.
func IsAssetRead(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindAssetRead
}

// IsCompile reports whether err is a compilation failure.
func IsCompile(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindCompile
}

// IsDuplicateName reports whether err is a tag name collision.
func IsDuplicateName(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindDuplicateName
}

// IsUnknownUnit reports whether err is a lookup miss.
func IsUnknownUnit(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindUnknownUnit
}

// IsAction reports whether err is a failed state action.
func IsAction(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindAction
}

// PublicMessage returns the text that may be shown to an HTTP client. It is
// the message of the outermost TagError without its cause, or a generic
// phrase for anything else.
func PublicMessage(err error) string {
	var te *TagError
	if errors.As(err, &te) && te.Kind != KindInternal {
		return te.Message
	}

	return "internal error"
}
