package models

// ExternalCall 是一次外部判定调用的摘要，prompt 与 response 均已截断。
type ExternalCall struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
	Model    string `json:"model"`
	Tokens   int    `json:"tokens,omitempty"`
}

// ControllerBatch 是某个 controller 在某个 flow 中处理的一个批次。
// Timestamp 为毫秒时间戳。
type ControllerBatch struct {
	ControllerID     string                 `json:"controllerId,omitempty"`
	ControllerName   string                 `json:"controllerName"`
	FlowID           string                 `json:"flowId"`
	BatchNumber      int64                  `json:"batchNumber"`
	InputRecordIDs   []string               `json:"inputRecordIds"`
	OutputRecordIDs  []string               `json:"outputRecordIds"`
	ExternalCalls    []ExternalCall         `json:"aiCalls"`
	InternalState    map[string]interface{} `json:"internalState"`
	Warnings         []string               `json:"warnings,omitempty"`
	ProcessingTimeMs int64                  `json:"processingTime"`
	Timestamp        int64                  `json:"timestamp"`
}

// FlowSummary 是 (controller, flow) 维度的累计汇总。
type FlowSummary struct {
	ControllerName        string `json:"controllerName"`
	FlowID                string `json:"flowId"`
	TotalBatches          int64  `json:"totalBatches"`
	TotalInputEvents      int    `json:"totalInputEvents"`
	TotalOutputEvents     int    `json:"totalOutputEvents"`
	TotalProcessingTimeMs int64  `json:"totalProcessingTime"`
	FirstBatchTime        int64  `json:"firstBatchTime"`
	LastBatchTime         int64  `json:"lastBatchTime"`
}

// ControllerFlowExecution 是汇总加上按时间顺序排列的批次明细。
type ControllerFlowExecution struct {
	FlowSummary
	Batches []ControllerBatch `json:"batches"`
}

// FlowStatus 表示一个 flow 的生命周期状态。
type FlowStatus string

const (
	FlowStatusProcessing FlowStatus = "processing"
	FlowStatusCompleted  FlowStatus = "completed"
	FlowStatusError      FlowStatus = "error"
)

// FlowTrace 记录一次注入的 flow 的输入、输出与参与的 controller。
type FlowTrace struct {
	FlowID         string                 `json:"flowId"`
	InputRecords   []SourceRecord         `json:"inputEvents"`
	OutputRecords  []string               `json:"outputEvents"`
	Controllers    []string               `json:"controllers"`
	StartTime      int64                  `json:"startTime"`
	EndTime        *int64                 `json:"endTime,omitempty"`
	Status         FlowStatus             `json:"status"`
	ControllerData map[string]FlowSummary `json:"controllerData,omitempty"`
}
