package errno

import (
	"errors"
	"fmt"
	"net/http"
)

// Errno 业务错误码，Code 与HTTP状态码对齐
type Errno struct {
	Code    int
	Message string
}

// Error 实现 error 接口
func (e *Errno) Error() string {
	return e.Message
}

var (
	ErrValidation       = &Errno{Code: http.StatusBadRequest, Message: "参数校验失败"}
	ErrDuplicateKey     = &Errno{Code: http.StatusBadRequest, Message: "记录已存在"}
	ErrForbidden        = &Errno{Code: http.StatusForbidden, Message: "无权访问"}
	ErrNotFound         = &Errno{Code: http.StatusNotFound, Message: "记录不存在"}
	ErrMalformedMessage = &Errno{Code: http.StatusUnprocessableEntity, Message: "消息格式错误"}
	ErrPersistence      = &Errno{Code: http.StatusInternalServerError, Message: "持久化失败"}
	ErrInternal         = &Errno{Code: http.StatusInternalServerError, Message: "内部服务错误"}
	ErrQueueUnavailable = &Errno{Code: http.StatusServiceUnavailable, Message: "消息队列不可用"}
)

// Wrap 在基础错误上附加上下文，保留 errors.Is 判断
func Wrap(base *Errno, format string, args ...any) error {
	return fmt.Errorf("%w: %s", base, fmt.Sprintf(format, args...))
}

// Validation 构造参数校验错误
func Validation(format string, args ...any) error {
	return Wrap(ErrValidation, format, args...)
}

// HTTPStatus 从错误链中取出HTTP状态码，未知错误为500
func HTTPStatus(err error) int {
	var e *Errno
	if errors.As(err, &e) {
		return e.Code
	}
	return http.StatusInternalServerError
}
