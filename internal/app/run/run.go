package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/compv/internal/app/plan"
	"github.com/John-Robertt/compv/internal/config"
	"github.com/John-Robertt/compv/internal/domain"
	"github.com/John-Robertt/compv/internal/encoder"
	"github.com/John-Robertt/compv/internal/ffmpeg"
	"github.com/John-Robertt/compv/internal/infra/cache"
	"github.com/John-Robertt/compv/internal/infra/fsx"
	"github.com/John-Robertt/compv/internal/scan"
)

// Execute 执行一次 run（dry-run/apply），并返回对外稳定的 RunReport。
// 该函数尽量把错误“降级”为 item 级失败（单条失败不影响其他）。
func Execute(ctx context.Context, eff config.EffectiveConfig, reg encoder.Registry, tool Tool) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, reg, tool, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息（由上层决定是否启用）。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, reg encoder.Registry, tool Tool, obs Observer) domain.RunReport {
	started := time.Now().UTC()

	if obs != nil {
		obs.OnStart(eff)
	}

	rr := domain.RunReport{
		RunID:     uuid.NewString(),
		Path:      eff.Path,
		DryRun:    !eff.Apply,
		StartedAt: started,
		Items:     make([]domain.ItemResult, 0, 64),
	}
	finish := func() domain.RunReport {
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}

	// 阶段 1：扫描（目录递归或单文件直给）。
	scanStarted := time.Now()
	files, earlyItem, ok := collectInputs(eff)
	if earlyItem != nil {
		rr.Items = append(rr.Items, *earlyItem)
	}
	if !ok {
		return finish()
	}
	if obs != nil {
		obs.OnPhaseDone("scan", map[string]any{"files": len(files)}, time.Since(scanStarted))
	}
	if len(files) == 0 {
		return finish()
	}

	// probe 缓存定位失败不致命：直接退化为每次真探测。
	var store *cache.Store
	if root, err := cache.DefaultRoot(); err == nil {
		s := cache.New(root, !eff.Apply)
		store = &s
	}

	// 阶段 2：探测。失败的输入降级为 item，不影响其他。
	probeStarted := time.Now()
	infos := make(map[string]domain.MediaInfo, len(files))
	kept := make([]domain.VideoFile, 0, len(files))
	cacheHits := 0
	for _, f := range files {
		info, hit, err := probeOne(ctx, tool, store, f)
		if err != nil {
			rr.Items = append(rr.Items, probeFailedItem(ctx, eff, f, err))
			continue
		}
		if hit {
			cacheHits++
		}
		infos[f.AbsPath] = info
		kept = append(kept, f)
	}
	if obs != nil {
		obs.OnPhaseDone("probe", map[string]any{
			"probed":     len(kept),
			"cache_hits": cacheHits,
			"failed":     len(files) - len(kept),
		}, time.Since(probeStarted))
	}

	// 阶段 3：规划。同目录共享 DirState，保证产物名互不相撞。
	planStarted := time.Now()
	states := make(map[string]plan.DirState)
	plans := make([]domain.JobPlan, 0, len(kept))
	skippedCount := 0
	for _, f := range kept {
		dir := filepath.Dir(f.AbsPath)
		st, have := states[dir]
		if !have {
			var err error
			st, err = plan.ReadDirState(dir)
			if err != nil {
				rr.Items = append(rr.Items, planFailedItem(eff, f, err))
				continue
			}
			states[dir] = st
		}

		p, skipped, err := plan.BuildJob(eff, f, infos[f.AbsPath], st)
		if err != nil {
			rr.Items = append(rr.Items, planFailedItem(eff, f, err))
			continue
		}
		if skipped {
			skippedCount++
			rr.Items = append(rr.Items, skippedItem(eff, f, infos[f.AbsPath]))
			continue
		}
		plans = append(plans, p)
	}

	var totalIn, totalEst int64
	for i := range plans {
		totalIn += plans[i].Info.SizeBytes
		totalEst += plans[i].EstimatedBytes
	}
	if obs != nil {
		obs.OnPhaseDone("plan", map[string]any{
			"jobs":     len(plans),
			"skipped":  skippedCount,
			"size_in":  domain.HumanBytes(totalIn),
			"size_est": domain.HumanBytes(totalEst),
		}, time.Since(planStarted))
	}

	// dry-run：到此为止，所有任务以 planned 形式进入报告；不写任何文件。
	if !eff.Apply {
		for i, p := range plans {
			it := plannedItem(p)
			rr.Items = append(rr.Items, it)
			if obs != nil {
				obs.OnItemDone(i+1, len(plans), p.SrcRel, it, 0)
			}
		}
		return finish()
	}

	// 阶段 4：编码（worker pool；单个文件内部串行，文件之间并发）。
	workers := eff.Concurrency
	if workers < 1 {
		workers = 1
	}
	if obs != nil {
		obs.OnPhaseDone("encode", map[string]any{
			"workers": workers,
			"jobs":    len(plans),
		}, 0)
	}

	type execResult struct {
		src string
		res domain.ItemResult
		dur time.Duration
	}

	jobs := make(chan domain.JobPlan)
	results := make(chan execResult, len(plans))

	var wg sync.WaitGroup
	var startSeq atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				oneStarted := time.Now()
				if obs != nil {
					obs.OnItemStart(int(startSeq.Add(1)), len(plans), p)
				}
				r := execOne(ctx, eff, p, reg, tool, obs)
				dur := time.Since(oneStarted)
				r.ElapsedMS = dur.Milliseconds()
				results <- execResult{src: p.SrcRel, res: r, dur: dur}
			}
		}()
	}

	go func() {
		for _, p := range plans {
			jobs <- p
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	done := 0
	for it := range results {
		done++
		rr.Items = append(rr.Items, it.res)
		if obs != nil {
			obs.OnItemDone(done, len(plans), it.src, it.res, it.dur)
		}
	}

	return finish()
}

// collectInputs 解析 eff.Path（目录或单文件）为输入列表。
// 返回的 earlyItem 非空时要并入报告；ok=false 表示无法继续。
func collectInputs(eff config.EffectiveConfig) ([]domain.VideoFile, *domain.ItemResult, bool) {
	fi, err := os.Stat(eff.Path)
	if err != nil {
		it := syntheticFailed(domain.ErrCodeIOFailed, fmt.Sprintf("无法访问输入路径：%v", err))
		return nil, &it, false
	}

	if !fi.IsDir() {
		f, err := scan.One(eff.Path)
		if err != nil {
			var ue *scan.UnsupportedError
			if errors.As(err, &ue) {
				it := domain.ItemResult{
					Src:       filepath.Base(ue.Path),
					Status:    domain.StatusUnsupported,
					ErrorCode: domain.ErrCodeUnsupportedInput,
					ErrorMsg:  ue.Error(),
					Attempts:  []domain.EncodeAttempt{},
				}
				return nil, &it, false
			}
			it := syntheticFailed(domain.ErrCodeIOFailed, fmt.Sprintf("无法读取输入文件：%v", err))
			return nil, &it, false
		}
		return []domain.VideoFile{f}, nil, true
	}

	files, err := scan.ScanVideos(eff.Path, eff.ExcludeDirs)
	if err != nil {
		it := syntheticFailed(domain.ErrCodeIOFailed, fmt.Sprintf("扫描失败：%v", err))
		return nil, &it, false
	}
	return files, nil, true
}

func probeOne(ctx context.Context, tool Tool, store *cache.Store, f domain.VideoFile) (domain.MediaInfo, bool, error) {
	key := cache.ProbeKey(f.AbsPath, f.Size, f.ModUnix)
	if store != nil {
		if info, ok, err := store.ReadProbe(key); err == nil && ok {
			return info, true, nil
		}
	}

	info, err := tool.Probe(ctx, f.AbsPath)
	if err != nil {
		return domain.MediaInfo{}, false, err
	}

	if store != nil {
		// dry-run 的 store 只读，写入失败（ErrReadOnly 等）不影响结果。
		_ = store.WriteProbe(key, info)
	}
	return info, false, nil
}

func execOne(ctx context.Context, eff config.EffectiveConfig, p domain.JobPlan, reg encoder.Registry, tool Tool, obs Observer) domain.ItemResult {
	item := domain.ItemResult{
		Src:              p.SrcRel,
		Dst:              p.DstRel,
		Status:           domain.StatusEncoded, // 失败时覆盖
		EncoderRequested: p.Encoder,
		Attempts:         []domain.EncodeAttempt{},
		SizeIn:           p.Info.SizeBytes,
		SizeEstimated:    p.EstimatedBytes,
	}

	if ctx.Err() != nil {
		item.Status = domain.StatusFailed
		item.ErrorCode = domain.ErrCodeCanceled
		item.ErrorMsg = "运行被取消"
		return item
	}

	var onProgress func(domain.EncodeProgress)
	if obs != nil {
		src := p.SrcRel
		onProgress = func(pr domain.EncodeProgress) { obs.OnEncodeProgress(src, pr) }
	}

	var lastCode, lastMsg string
	for _, name := range encoder.FallbackOrder(p.Encoder) {
		enc, ok := reg.Get(name)
		if !ok {
			lastCode = domain.ErrCodeEncodeFailed
			lastMsg = fmt.Sprintf("未注册的编码器：%q", name)
			item.Attempts = append(item.Attempts, domain.EncodeAttempt{
				Encoder: name, Stage: "start", ErrorCode: lastCode, ErrorMsg: lastMsg,
			})
			continue
		}

		size, att := encodeOnce(ctx, p, enc, tool, onProgress)
		item.Attempts = append(item.Attempts, att)

		if att.ErrorCode == "" {
			item.EncoderUsed = name
			item.SizeOut = size
			if item.SizeIn > 0 {
				item.SavedPct = (1 - float64(size)/float64(item.SizeIn)) * 100
			}
			finalizeSource(&item, eff, p, size)
			return item
		}

		lastCode, lastMsg = att.ErrorCode, att.ErrorMsg

		// 超时与取消不回退：超时说明任务超限（CPU 只会更慢），取消是用户意志。
		if att.ErrorCode == domain.ErrCodeEncodeTimeout || att.ErrorCode == domain.ErrCodeCanceled {
			break
		}
		// 只有硬件编码失败才值得换 CPU 重试。
		if !enc.Hardware() {
			break
		}
	}

	item.Status = domain.StatusFailed
	item.ErrorCode = lastCode
	item.ErrorMsg = lastMsg
	return item
}

// encodeOnce 完成一次“临时文件 → 编码 → rename”的完整尝试。
// 失败时清理临时文件并把失败原因编码进 EncodeAttempt。
func encodeOnce(ctx context.Context, p domain.JobPlan, enc encoder.Encoder, tool Tool, onProgress func(domain.EncodeProgress)) (int64, domain.EncodeAttempt) {
	att := domain.EncodeAttempt{Encoder: enc.Name(), Stage: "encode"}

	tmp, err := fsx.TempOutput(filepath.Dir(p.DstAbs), filepath.Base(p.DstAbs))
	if err != nil {
		att.Stage = "start"
		att.ErrorCode = domain.ErrCodeIOFailed
		att.ErrorMsg = fmt.Sprintf("创建临时输出失败：%v", err)
		return 0, att
	}

	if _, err := tool.Encode(ctx, p, enc, tmp, onProgress); err != nil {
		_ = os.Remove(tmp)
		att.Stage, att.ErrorCode = classifyEncodeError(ctx, err)
		att.ErrorMsg = humanizeEncodeError(enc.Name(), err)
		return 0, att
	}

	fi, err := os.Stat(tmp)
	if err != nil || fi.Size() == 0 {
		_ = os.Remove(tmp)
		att.ErrorCode = domain.ErrCodeEncodeFailed
		att.ErrorMsg = "编码器正常退出但产物为空"
		return 0, att
	}

	if err := fsx.Rename(tmp, p.DstAbs); err != nil {
		_ = os.Remove(tmp)
		if fsx.IsPathTypeConflict(err) {
			att.ErrorCode = domain.ErrCodeTargetConflict
		} else {
			att.ErrorCode = domain.ErrCodeMoveFailed
		}
		att.ErrorMsg = err.Error()
		return 0, att
	}

	att.Stage = "ok"
	return fi.Size(), att
}

// finalizeSource 在产物落位后处理源文件。
// 删除只在配置允许且真正省了空间时发生；任何迟疑都偏向保留。
func finalizeSource(item *domain.ItemResult, eff config.EffectiveConfig, p domain.JobPlan, outSize int64) {
	if eff.KeepSource {
		return
	}
	if p.Info.SizeBytes <= 0 || outSize >= p.Info.SizeBytes {
		item.ErrorMsg = "产物未小于源文件，已保留源文件"
		return
	}
	if err := os.Remove(p.SrcAbs); err != nil {
		item.ErrorMsg = fmt.Sprintf("源文件删除失败（产物完好）：%v", err)
	}
}

func classifyEncodeError(ctx context.Context, err error) (stage, code string) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return "encode", domain.ErrCodeCanceled
	}

	var re *ffmpeg.RunError
	if errors.As(err, &re) {
		if re.TimedOut {
			return "encode", domain.ErrCodeEncodeTimeout
		}
		return "encode", domain.ErrCodeEncodeFailed
	}

	var tm *ffmpeg.ToolMissingError
	if errors.As(err, &tm) {
		return "start", domain.ErrCodeToolMissing
	}

	// 进程没能启动（二进制损坏、权限不足等）。
	return "start", domain.ErrCodeEncodeFailed
}

// humanizeEncodeError 把底层错误翻译为可操作的提示。
func humanizeEncodeError(encName string, err error) string {
	var re *ffmpeg.RunError
	if errors.As(err, &re) {
		if re.TimedOut {
			return fmt.Sprintf("%s 编码超时（超过 timeout_minutes 限制）。可调大超时、换更快的 preset，或降低分辨率。", encName)
		}
		low := strings.ToLower(re.Stderr)
		switch {
		case strings.Contains(low, "unknown encoder"):
			return fmt.Sprintf("当前 ffmpeg 构建不包含 %s。运行 compv encoders 查看可用编码器，或改用 libx264。", encName)
		case strings.Contains(low, "cannot load"), strings.Contains(low, "cuda"), strings.Contains(low, "no capable devices"), strings.Contains(low, "device"):
			return fmt.Sprintf("%s 硬件初始化失败（驱动缺失或设备不可用）：%s", encName, re.Stderr)
		}
		return fmt.Sprintf("%s 编码失败：%v", encName, re)
	}

	var tm *ffmpeg.ToolMissingError
	if errors.As(err, &tm) {
		return tm.Error()
	}
	if errors.Is(err, context.Canceled) {
		return "编码被用户中断"
	}
	return fmt.Sprintf("%s 编码失败：%v", encName, err)
}

func probeFailedItem(ctx context.Context, eff config.EffectiveConfig, f domain.VideoFile, err error) domain.ItemResult {
	code := domain.ErrCodeProbeFailed
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		code = domain.ErrCodeCanceled
	}
	return domain.ItemResult{
		Src:              f.RelPath,
		Status:           domain.StatusFailed,
		ErrorCode:        code,
		ErrorMsg:         err.Error(),
		EncoderRequested: eff.Encoder,
		Attempts:         []domain.EncodeAttempt{},
		SizeIn:           f.Size,
	}
}

func planFailedItem(eff config.EffectiveConfig, f domain.VideoFile, err error) domain.ItemResult {
	return domain.ItemResult{
		Src:              f.RelPath,
		Status:           domain.StatusFailed,
		ErrorCode:        domain.ErrCodeIOFailed,
		ErrorMsg:         fmt.Sprintf("规划失败：%v", err),
		EncoderRequested: eff.Encoder,
		Attempts:         []domain.EncodeAttempt{},
		SizeIn:           f.Size,
	}
}

func skippedItem(eff config.EffectiveConfig, f domain.VideoFile, info domain.MediaInfo) domain.ItemResult {
	return domain.ItemResult{
		Src:              f.RelPath,
		Dst:              filepath.Join(filepath.Dir(f.RelPath), plan.OutName(f.Base)),
		Status:           domain.StatusSkipped,
		EncoderRequested: eff.Encoder,
		Attempts:         []domain.EncodeAttempt{},
		SizeIn:           info.SizeBytes,
	}
}

func plannedItem(p domain.JobPlan) domain.ItemResult {
	return domain.ItemResult{
		Src:              p.SrcRel,
		Dst:              p.DstRel,
		Status:           domain.StatusPlanned,
		EncoderRequested: p.Encoder,
		Attempts:         []domain.EncodeAttempt{},
		SizeIn:           p.Info.SizeBytes,
		SizeEstimated:    p.EstimatedBytes,
	}
}

func syntheticFailed(code, msg string) domain.ItemResult {
	return domain.ItemResult{
		Src:       "",
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
		Attempts:  []domain.EncodeAttempt{},
	}
}
