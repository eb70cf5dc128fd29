package domain

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestRunReport_Finalize_SortAndSummaryAndUTC(t *testing.T) {
	r := RunReport{
		Path:       "/abs/path",
		DryRun:     true,
		StartedAt:  time.Date(2026, 2, 9, 10, 0, 0, 0, time.FixedZone("X", 8*3600)),
		FinishedAt: time.Date(2026, 2, 9, 10, 0, 1, 0, time.FixedZone("X", 8*3600)),
		Items: []ItemResult{
			{Src: "b/b.mp4", Status: StatusSkipped},
			{Src: "", Status: StatusFailed}, // config/tool_missing 等合成项
			{Src: "a/a.mp4", Status: StatusEncoded},
			{Src: "c.txt", Status: StatusUnsupported},
		},
	}

	r.Finalize()

	// src=="" 必须排在最后；其余按 src 字典序。
	if r.Items[0].Src != "a/a.mp4" || r.Items[1].Src != "b/b.mp4" || r.Items[2].Src != "c.txt" || r.Items[3].Src != "" {
		t.Fatalf("items 排序不符合契约：%v", []string{r.Items[0].Src, r.Items[1].Src, r.Items[2].Src, r.Items[3].Src})
	}
	if r.Summary.Encoded != 1 || r.Summary.Skipped != 1 || r.Summary.Failed != 1 || r.Summary.Unsupported != 1 {
		t.Fatalf("summary 统计不正确：%+v", r.Summary)
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("json.Marshal 失败：%v", err)
	}
	// time.Time 在 UTC 下应输出 'Z' 后缀。
	if len(b) == 0 || !bytes.Contains(b, []byte("\"started_at\":\"2026-02-09T02:00:00Z\"")) {
		t.Fatalf("started_at 不是 UTC RFC3339：%s", string(b))
	}
}

func TestRunReport_Finalize_PlannedCounted(t *testing.T) {
	r := RunReport{
		Items: []ItemResult{
			{Src: "a.mp4", Status: StatusPlanned},
			{Src: "b.mp4", Status: StatusPlanned},
		},
	}
	r.Finalize()
	if r.Summary.Planned != 2 {
		t.Fatalf("期望 planned=2，实际 %+v", r.Summary)
	}
}

func TestHumanBytes(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.00 KiB"},
		{1536, "1.50 KiB"},
		{5 * 1024 * 1024, "5.00 MiB"},
		{1503238553, "1.40 GiB"},
	}
	for _, c := range cases {
		if got := HumanBytes(c.in); got != c.want {
			t.Fatalf("HumanBytes(%d)=%q，期望 %q", c.in, got, c.want)
		}
	}
}
