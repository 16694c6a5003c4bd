// Package apperr はAPI全体で共有するエラー種別とHTTP変換を提供します。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error はエラーコード付きのアプリケーションエラーです。
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap は元になったエラーを返します。
func (e *Error) Unwrap() error {
	return e.cause
}

// WithCause は元エラーを紐付けた複製を返します。
func (e *Error) WithCause(err error) *Error {
	clone := *e
	clone.cause = err
	return &clone
}

// Validation は入力不正を表すエラーを返します（4xx、再試行しない）。
func Validation(message string) *Error {
	return &Error{Code: "VALIDATION_ERROR", Message: message, HTTPStatus: http.StatusBadRequest}
}

// NotFound は対象リソースが存在しないことを表すエラーを返します。
func NotFound(message string) *Error {
	return &Error{Code: "NOT_FOUND", Message: message, HTTPStatus: http.StatusNotFound}
}

// Forbidden は呼び出し元がリソースを所有していないことを表すエラーを返します。
func Forbidden(message string) *Error {
	return &Error{Code: "FORBIDDEN", Message: message, HTTPStatus: http.StatusForbidden}
}

// QueueUnavailable はブローカーへの投入が確認できなかったことを表すエラーを返します。
// 呼び出し元が投入をやり直せるよう、再試行可能な5xxとして返します。
func QueueUnavailable(message string) *Error {
	return &Error{Code: "QUEUE_UNAVAILABLE", Message: message, HTTPStatus: http.StatusServiceUnavailable}
}

// Execution はジョブ実行中の失敗を表すエラーを返します。
// ワーカー内部で再試行ポリシーの対象になり、呼び出し元には直接は返りません。
func Execution(message string) *Error {
	return &Error{Code: "EXECUTION_ERROR", Message: message, HTTPStatus: http.StatusInternalServerError}
}

// Internal はその他の内部エラーを返します。
func Internal(message string) *Error {
	return &Error{Code: "INTERNAL_ERROR", Message: message, HTTPStatus: http.StatusInternalServerError}
}

// StatusOf はエラーに対応するHTTPステータスコードを返します。
func StatusOf(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// AsError はアプリケーションエラーを取り出します。該当しない場合は内部エラーに包みます。
func AsError(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("予期しないエラーが発生しました。").WithCause(err)
}
