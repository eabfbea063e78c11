package model

import (
	"errors"
	"fmt"
)

// ErrorKind 核心错误分类，决定网关如何回复调用方
type ErrorKind int

const (
	// KindNotFound 引用的会话/故事/参与者不存在
	KindNotFound ErrorKind = iota + 1
	// KindForbidden 角色或身份不匹配
	KindForbidden
	// KindInvalidState 故事不处于操作要求的生命周期状态
	KindInvalidState
	// KindValidation 输入不合法（别名冲突、空字段、非法刻度值等）
	KindValidation
)

// Error 带分类的核心错误，四类均为请求级可恢复错误
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// NotFoundError 构造NotFound错误
func NotFoundError(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// ForbiddenError 构造Forbidden错误
func ForbiddenError(format string, args ...interface{}) error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// InvalidStateError 构造InvalidState错误
func InvalidStateError(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

// ValidationError 构造Validation错误
func ValidationError(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// IsKind 判断错误是否属于指定分类
func IsKind(err error, kind ErrorKind) bool {
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return coreErr.Kind == kind
	}
	return false
}
