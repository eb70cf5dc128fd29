// Package plan 把“扫描到的输入 + 探测结果 + 生效配置”变成确定性的执行计划。
// 只读文件系统现状，不做任何写入。
package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/compv/internal/config"
	"github.com/John-Robertt/compv/internal/domain"
)

// OutName 返回输入文件对应的默认产物名（容器固定 mp4）。
func OutName(base string) string {
	return "compressed_" + base + ".mp4"
}

// DirState 是单个目录的已占用名字集合。
//
// 同一目录下的多个计划共享一个 DirState：BuildJob 会把分配出去的名字
// 写回 Names，保证 a.mp4 与 a.mkv 不会撞到同一个 compressed_a.mp4。
type DirState struct {
	Dir   string
	Names map[string]struct{}
}

// ReadDirState 读取 dir 的现状（只做 ReadDir，不读文件内容）。
// 目录不存在时返回空状态且不报错。
func ReadDirState(dir string) (DirState, error) {
	st := DirState{
		Dir:   filepath.Clean(dir),
		Names: map[string]struct{}{},
	}

	entries, err := os.ReadDir(st.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return DirState{}, err
	}
	for _, e := range entries {
		st.Names[e.Name()] = struct{}{}
	}
	return st, nil
}

// BuildJob 为单个输入生成执行计划。
//
// 返回 skipped=true 表示默认产物已存在且未 --force（该输入这一轮不处理）。
//
// 约束：
// - 只降不升：缩放只在目标宽 < 源宽时生效，帧率只在目标 < 源时生效
// - 名字冲突（--force 重压、同目录同名不同容器）用 __N 后缀让开，绝不覆盖
// - 两遍目标体积模式的预估体积就是目标本身
func BuildJob(cfg config.EffectiveConfig, f domain.VideoFile, info domain.MediaInfo, st DirState) (domain.JobPlan, bool, error) {
	if f.Base == "" {
		return domain.JobPlan{}, false, fmt.Errorf("输入缺少文件名：%q", f.AbsPath)
	}

	name := OutName(f.Base)
	if _, exists := st.Names[name]; exists && !cfg.Force {
		return domain.JobPlan{}, true, nil
	}
	dstName := allocName(name, st.Names)
	st.Names[dstName] = struct{}{}

	scaleWidth := 0
	if cfg.ScaleWidth > 0 && info.Width > 0 && cfg.ScaleWidth < info.Width {
		scaleWidth = cfg.ScaleWidth
	}

	fps := 0
	if cfg.FPS > 0 && info.FPS > 0 && float64(cfg.FPS) < info.FPS {
		fps = cfg.FPS
	}

	p := domain.JobPlan{
		SrcAbs:     f.AbsPath,
		SrcRel:     f.RelPath,
		DstAbs:     filepath.Join(st.Dir, dstName),
		DstRel:     filepath.Join(filepath.Dir(f.RelPath), dstName),
		Encoder:    cfg.Encoder,
		Quality:    cfg.Quality,
		Preset:     cfg.Preset,
		ScaleWidth: scaleWidth,
		FPS:        fps,
		AudioKbps:  cfg.AudioKbps,
		TargetMB:   cfg.TargetMB,
		Info:       info,
	}

	if cfg.TargetMB > 0 {
		p.EstimatedBytes = int64(cfg.TargetMB) * 1024 * 1024
	} else {
		p.EstimatedBytes = EstimateSize(info, cfg.Quality, cfg.Preset, scaleWidth)
	}
	return p, false, nil
}

func allocName(name string, used map[string]struct{}) string {
	if _, ok := used[name]; !ok {
		return name
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for n := 2; ; n++ {
		cand := fmt.Sprintf("%s__%d%s", base, n, ext)
		if _, ok := used[cand]; !ok {
			return cand
		}
	}
}
