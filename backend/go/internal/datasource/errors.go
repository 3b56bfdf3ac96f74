package datasource

import (
	"SignalFlow/backend/go/internal/models"
	"errors"
	"fmt"
)

// ErrorKind 区分上游失败的类别。
type ErrorKind string

const (
	ErrorKindRateLimited ErrorKind = "RATE_LIMIT"    // HTTP 429
	ErrorKindHTTP        ErrorKind = "HTTP_ERROR"    // 其他非 2xx 响应
	ErrorKindAPI         ErrorKind = "API_ERROR"     // 响应中 success=false
	ErrorKindRequest     ErrorKind = "REQUEST_ERROR" // 网络错误、熔断、响应无法解析
)

// ErrUnknownEntity 表示实体不在已初始化的实体列表中。
var ErrUnknownEntity = errors.New("unknown entity")

// SubscriptionError 携带上游失败的细节。
// 限流错误满足 errors.Is(err, models.ErrUpstreamRateLimited)，
// 其余类别满足 errors.Is(err, models.ErrUpstreamRequestFailed)。
type SubscriptionError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *SubscriptionError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("datasource %s (status %d): %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("datasource %s: %s", e.Kind, msg)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// Is 将错误类别映射到 models 中的哨兵错误。
func (e *SubscriptionError) Is(target error) bool {
	if e.Kind == ErrorKindRateLimited {
		return target == models.ErrUpstreamRateLimited
	}
	return target == models.ErrUpstreamRequestFailed
}

// IsRateLimited 判断错误是否为上游限流。
func IsRateLimited(err error) bool {
	return errors.Is(err, models.ErrUpstreamRateLimited)
}
