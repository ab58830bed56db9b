package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"regexp"
	"syscall"

	"github.com/BaSui01/aicore/types"
)

// transientStatus 可重试的 HTTP 状态码
var transientStatus = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

var transientErrnos = []syscall.Errno{
	syscall.ECONNRESET,
	syscall.ECONNREFUSED,
	syscall.ECONNABORTED,
	syscall.ETIMEDOUT,
	syscall.EPIPE,
	syscall.EHOSTUNREACH,
	syscall.ENETUNREACH,
}

var transientMessage = regexp.MustCompile(`(?i)rate.?limit|too many requests|timed? ?out|timeout|connection reset|econnreset|socket hang up|temporarily unavailable|overloaded`)

// IsTransient 判断错误是否为瞬时错误。
//
// 可重试：已知的瞬时网络错误码、状态码 408/429/500/502/503/504、
// 消息中含限流/超时/连接重置字样，以及标记为 RATE_LIMITED / TIMEOUT
// 或 Retryable 的 types.Error。context.Canceled 永远不可重试。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	if e, ok := types.AsError(err); ok {
		switch e.Code {
		case types.ErrRateLimited, types.ErrTimeout:
			return true
		case types.ErrInsufficientCredits, types.ErrPlanLimitExceeded, types.ErrWalletNotFound,
			types.ErrInvalidRequest, types.ErrContentFiltered:
			return false
		}
		// 适配器映射出的错误已经带有可重试判定
		return e.Retryable || transientStatus[e.HTTPStatus]
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return transientMessage.MatchString(err.Error())
}
