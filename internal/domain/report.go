package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusEncoded     = "encoded"
	StatusPlanned     = "planned"
	StatusSkipped     = "skipped"
	StatusFailed      = "failed"
	StatusUnsupported = "unsupported"
)

const (
	ErrCodeUnsupportedInput  = "unsupported_input"
	ErrCodeProbeFailed       = "probe_failed"
	ErrCodeEncodeFailed      = "encode_failed"
	ErrCodeEncodeTimeout     = "encode_timeout"
	ErrCodeToolMissing       = "tool_missing"
	ErrCodeTargetConflict    = "target_conflict"
	ErrCodeIOFailed          = "io_failed"
	ErrCodeMoveFailed        = "move_failed"
	ErrCodeCanceled          = "canceled"
	ErrCodeConfigNotFound    = "config_not_found"
	ErrCodeConfigInvalid     = "config_invalid"
	ErrCodeConfigMissingPath = "config_missing_path"
)

// RunReport 是对外稳定输出（report.json / stdout JSON）的结构。
type RunReport struct {
	RunID  string `json:"run_id"`
	Path   string `json:"path"`
	DryRun bool   `json:"dry_run"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary `json:"summary"`
	Items   []ItemResult  `json:"items"`
}

type ReportSummary struct {
	Encoded     int `json:"encoded"`
	Planned     int `json:"planned"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
	Unsupported int `json:"unsupported"`
}

type ItemResult struct {
	Src string `json:"src"`
	Dst string `json:"dst"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	EncoderRequested string          `json:"encoder_requested"`
	EncoderUsed      string          `json:"encoder_used"`
	Attempts         []EncodeAttempt `json:"attempts"`

	SizeIn        int64   `json:"size_in"`
	SizeOut       int64   `json:"size_out"`
	SizeEstimated int64   `json:"size_estimated"`
	SavedPct      float64 `json:"saved_pct"`

	ElapsedMS int64 `json:"elapsed_ms"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) items 稳定排序：按 src 字典序；src=="" 的合成条目排在最后
// 3) summary 由 items 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Items, func(i, j int) bool {
		a := r.Items[i].Src
		b := r.Items[j].Src
		if a == "" && b == "" {
			return false
		}
		if a == "" {
			return false
		}
		if b == "" {
			return true
		}
		return a < b
	})

	var s ReportSummary
	for _, it := range r.Items {
		switch it.Status {
		case StatusEncoded:
			s.Encoded++
		case StatusPlanned:
			s.Planned++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		case StatusUnsupported:
			s.Unsupported++
		}
	}
	r.Summary = s
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
// 当前只是透传 encoding/json 的默认行为。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
