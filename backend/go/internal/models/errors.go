package models

import "errors"

// 流水线中可区分的错误类别。均为非致命错误，恢复方式是等待下一次调度。
var (
	// ErrUpstreamRateLimited 上游返回了限流响应 (HTTP 429)。
	ErrUpstreamRateLimited = errors.New("upstream rate limited")
	// ErrUpstreamRequestFailed 上游请求失败（非限流）。
	ErrUpstreamRequestFailed = errors.New("upstream request failed")
	// ErrJudgmentFailed 外部判定能力调用失败或返回了无法解析的结果。
	ErrJudgmentFailed = errors.New("judgment call failed")
	// ErrPersistenceUnavailable 持久化存储不可用，相关子系统降级为内存模式。
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
)
