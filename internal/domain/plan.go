package domain

// JobPlan 是对单个输入文件的最小执行计划（纯数据，不做任何写入）。
//
// 约束：
// - DstAbs 在规划时刻保证不与目标目录现有文件冲突
// - 真正产出必须遵守“临时文件 + rename 最后一步”
type JobPlan struct {
	SrcAbs string
	SrcRel string
	DstAbs string
	DstRel string

	Encoder    string // 规范化后的编码器名（libx264 / h264_nvenc / h264_amf / h264_qsv）
	Quality    int    // CRF / CQ / QP 共用同一数值刻度
	Preset     string // x264 preset；硬件编码器忽略
	ScaleWidth int    // 0 = 保持原分辨率
	FPS        int    // 0 = 保持原帧率
	AudioKbps  int
	TargetMB   int // >0 = 两遍目标体积模式（仅 libx264）

	Info           MediaInfo
	EstimatedBytes int64
}

// EncodeAttempt 记录一次编码器尝试（用于解释硬件编码降级原因）。
type EncodeAttempt struct {
	Encoder   string `json:"encoder"`
	Stage     string `json:"stage"` // "start" / "encode" / "ok"
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}
