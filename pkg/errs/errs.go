// Package errs 定义了 RAG 流水线各阶段返回的错误类型。
//
// 每个阶段返回携带 Kind 的 *Error，调用方（任务重试、HTTP 边界）通过 Kind
// 判断如何处理，而不是靠捕获通用错误。
package errs

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Kind 是错误分类。
type Kind string

const (
	InvalidIdentifier     Kind = "InvalidIdentifier"
	UnrecognizedSchema    Kind = "UnrecognizedSchema"
	EmptyInput            Kind = "EmptyInput"
	ModelUnavailable      Kind = "ModelUnavailable"
	CollectionNotFound    Kind = "CollectionNotFound"
	DownloadFailed        Kind = "DownloadFailed"
	GenerationParseFailed Kind = "GenerationParseFailed"
	InsufficientQuestions Kind = "InsufficientQuestions"
	RetryExhausted        Kind = "RetryExhausted"
	NotFound              Kind = "NotFound"
	Internal              Kind = "Internal"
)

// Error 是带分类和诊断信息的错误。
type Error struct {
	Kind   Kind
	Msg    string
	Detail map[string]any
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New 创建一个指定分类的错误。
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap 用指定分类包装底层错误。
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// With 附加一条诊断信息并返回自身，便于链式调用。
func (e *Error) With(key string, value any) *Error {
	if e.Detail == nil {
		e.Detail = make(map[string]any)
	}
	e.Detail[key] = value
	return e
}

// KindOf 返回错误链中第一个 *Error 的分类，未分类的错误视为 Internal。
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is 判断错误链中是否包含指定分类。
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if e.Kind == kind {
				return true
			}
			err = e.Err
			continue
		}
		return false
	}
	return false
}

// DetailOf 返回错误链中第一个 *Error 的诊断信息。
func DetailOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return nil
}

// Retryable 判断后台任务遇到该错误时是否值得重试。
// 下载、生成解析以及未分类的基础设施错误可以重试；输入类错误重试也不会成功。
func Retryable(err error) bool {
	switch KindOf(err) {
	case DownloadFailed, GenerationParseFailed, Internal:
		return true
	default:
		return false
	}
}

// Snippet 将错误信息截断为最多 n 个字符，用于对外返回。
func Snippet(err error, n int) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
