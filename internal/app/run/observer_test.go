package run

import (
	"context"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/John-Robertt/compv/internal/config"
	"github.com/John-Robertt/compv/internal/domain"
	"github.com/John-Robertt/compv/internal/encoder"
)

type recordObserver struct {
	mu sync.Mutex

	startCalls int
	phases     []string
	starts     []string
	items      []string
	progress   []string // 收到进度事件的 src
	keepalives int
}

func (o *recordObserver) OnStart(eff config.EffectiveConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.startCalls++
}

func (o *recordObserver) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, name)
}

func (o *recordObserver) OnItemStart(idx, total int, p domain.JobPlan) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts = append(o.starts, p.SrcRel)
}

func (o *recordObserver) OnItemDone(idx, total int, src string, res domain.ItemResult, dur time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = append(o.items, src)
}

func (o *recordObserver) OnEncodeProgress(src string, p domain.EncodeProgress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = append(o.progress, src)
}

func (o *recordObserver) OnProgress(done, total, ok, fail, skip, active int, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.keepalives++
}

func TestExecuteWithObserver_DryRun_EmitsPhaseAndItemEvents(t *testing.T) {
	isolateCache(t)
	root := t.TempDir()
	writeVideo(t, filepath.Join(root, "a.mkv"), 100)

	obs := &recordObserver{}
	_ = ExecuteWithObserver(context.Background(), effFixture(root), encoder.DefaultRegistry(), newStub(100), obs)

	if obs.startCalls != 1 {
		t.Fatalf("期望 OnStart 调用 1 次，实际 %d", obs.startCalls)
	}

	// dry-run 没有 encode 阶段。
	wantPhases := []string{"scan", "probe", "plan"}
	if !reflect.DeepEqual(obs.phases, wantPhases) {
		t.Fatalf("阶段事件不符合预期：got=%v want=%v", obs.phases, wantPhases)
	}
	if len(obs.items) != 1 || obs.items[0] != "a.mkv" {
		t.Fatalf("条目事件不符合预期：items=%v", obs.items)
	}
	if len(obs.starts) != 0 {
		t.Fatalf("dry-run 不应有编码开始事件：%v", obs.starts)
	}
	if len(obs.progress) != 0 {
		t.Fatalf("dry-run 不应有编码进度：%v", obs.progress)
	}
	// keepalive 由 CLI ticker 驱动，run 层自己不触发。
	if obs.keepalives != 0 {
		t.Fatalf("run 层不应触发 keepalive：%d", obs.keepalives)
	}
}

func TestExecuteWithObserver_Apply_EmitsEncodeProgress(t *testing.T) {
	isolateCache(t)
	root := t.TempDir()
	writeVideo(t, filepath.Join(root, "a.mkv"), 100)
	writeVideo(t, filepath.Join(root, "b.mkv"), 100)

	eff := effFixture(root)
	eff.Apply = true

	obs := &recordObserver{}
	_ = ExecuteWithObserver(context.Background(), eff, encoder.DefaultRegistry(), newStub(100), obs)

	wantPhases := []string{"scan", "probe", "plan", "encode"}
	if !reflect.DeepEqual(obs.phases, wantPhases) {
		t.Fatalf("阶段事件不符合预期：got=%v want=%v", obs.phases, wantPhases)
	}
	if len(obs.starts) != 2 {
		t.Fatalf("期望 2 个开始事件：%v", obs.starts)
	}
	if len(obs.items) != 2 {
		t.Fatalf("期望 2 个条目事件：%v", obs.items)
	}
	// stubTool 每次编码回调两次进度。
	if len(obs.progress) != 4 {
		t.Fatalf("期望 4 次进度事件，实际 %d：%v", len(obs.progress), obs.progress)
	}
	for _, src := range obs.progress {
		if src != "a.mkv" && src != "b.mkv" {
			t.Fatalf("进度事件携带未知 src：%q", src)
		}
	}
}

func TestExecuteWithObserver_NilObserver_SameResultAsExecute(t *testing.T) {
	isolateCache(t)
	root := t.TempDir()
	writeVideo(t, filepath.Join(root, "a.mkv"), 100)

	eff := effFixture(root)

	a := Execute(context.Background(), eff, encoder.DefaultRegistry(), newStub(100))
	b := ExecuteWithObserver(context.Background(), eff, encoder.DefaultRegistry(), newStub(100), nil)

	// run_id 每次生成、时间字段允许微小差异；对比时归零。
	a.RunID, b.RunID = "", ""
	a.StartedAt, a.FinishedAt = time.Time{}, time.Time{}
	b.StartedAt, b.FinishedAt = time.Time{}, time.Time{}

	if !reflect.DeepEqual(a, b) {
		t.Fatalf("nil observer 不应改变结果：\nExecute=%+v\nWithObs=%+v", a, b)
	}
}
