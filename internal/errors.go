package internal

import (
	"errors"
	"fmt"
)

// 錯誤碼
const (
	ErrCodeRoomNotFound     = "ROOM_NOT_FOUND"
	ErrCodeRoomFull         = "ROOM_FULL"
	ErrCodeDuplicateRoom    = "DUPLICATE_ROOM"
	ErrCodeMalformedMessage = "MALFORMED_MESSAGE"
	ErrCodeConnectionClosed = "CONNECTION_CLOSED"
	ErrCodeRateLimited      = "RATE_LIMITED"
)

// AppError 應用程式錯誤
//
// Message 是回給客戶端的文字（error 訊息的 message 欄位），
// 因此維持原協議的英文字串。
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 以錯誤碼比對，讓 errors.Is 能穿透 Wrap
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError 創建應用程式錯誤
func NewError(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// WrapError 包裝底層錯誤
func WrapError(err error, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// 預定義錯誤
var (
	ErrRoomNotFound     = NewError(ErrCodeRoomNotFound, "Room not found")
	ErrRoomFull         = NewError(ErrCodeRoomFull, "Room is full")
	ErrDuplicateRoom    = NewError(ErrCodeDuplicateRoom, "Room already exists")
	ErrMalformedMessage = NewError(ErrCodeMalformedMessage, "Malformed message")
	ErrConnectionClosed = NewError(ErrCodeConnectionClosed, "Connection closed")
	ErrRateLimited      = NewError(ErrCodeRateLimited, "rate limit exceeded")
)

// ErrorCode 取出錯誤碼，非 AppError 回傳空字串
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// PublicMessage 取出可回給客戶端的訊息
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "Internal error"
}
