package pipeline

import (
	"SignalFlow/backend/go/internal/models"
	"context"
	"fmt"
	"sync"
)

type reportKey struct{}

// BatchReport 收集一次批处理中的外部调用与警告，由 Stage 写入执行追踪。
type BatchReport struct {
	mu       sync.Mutex
	calls    []models.ExternalCall
	warnings []string
}

// WithReport 将 report 放入 ctx。
func WithReport(ctx context.Context, r *BatchReport) context.Context {
	return context.WithValue(ctx, reportKey{}, r)
}

// ReportFrom 取出 ctx 中的 report，不存在时返回 nil。nil 上的方法调用是安全的。
func ReportFrom(ctx context.Context) *BatchReport {
	r, _ := ctx.Value(reportKey{}).(*BatchReport)
	return r
}

// AddCall 记录一次外部调用，空调用会被忽略。
func (r *BatchReport) AddCall(call models.ExternalCall) {
	if r == nil || (call.Prompt == "" && call.Model == "") {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

// Warnf 记录一条警告。
func (r *BatchReport) Warnf(format string, args ...interface{}) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

// Calls 返回外部调用的副本。
func (r *BatchReport) Calls() []models.ExternalCall {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ExternalCall(nil), r.calls...)
}

// Warnings 返回警告的副本。
func (r *BatchReport) Warnings() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.warnings...)
}
