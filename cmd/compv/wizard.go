package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/John-Robertt/compv/internal/app/plan"
	"github.com/John-Robertt/compv/internal/app/run"
	"github.com/John-Robertt/compv/internal/config"
	"github.com/John-Robertt/compv/internal/domain"
	"github.com/John-Robertt/compv/internal/encoder"
	"github.com/John-Robertt/compv/internal/ffmpeg"
	"github.com/John-Robertt/compv/internal/notify"
	"github.com/John-Robertt/compv/internal/scan"
)

// 向导：把一次单文件压缩拆成几步选择。
// 拖拽文件到 compv 上（或 compv wizard <文件>）直接从探测开始。
//
// UI 跑在 stderr 上，stdout 留给报告 JSON（与 run 同一契约）。

var (
	wizAppStyle   = lipgloss.NewStyle().Margin(1, 2)
	wizTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFF")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1).
			Bold(true)
	wizStepStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true)
	wizErrStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555")).Bold(true)
	wizDoneStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B")).Bold(true)
	wizSelectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	wizItemStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	wizFaintStyle    = lipgloss.NewStyle().Faint(true)
	wizBarFullStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))
	wizBarEmptyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type wizState int

const (
	wizPath wizState = iota
	wizProbing
	wizQuality
	wizEncoder
	wizResolution
	wizFPS
	wizPreset
	wizConfirm
	wizEncoding
	wizKeep
	wizDone
	wizError
)

var wizQualityOptions = []struct {
	label string
	crf   int
}{
	{"high   — CRF 23（质量优先，文件更大）", config.CRFHigh},
	{"medium — CRF 28（均衡，推荐）", config.CRFMedium},
	{"strong — CRF 33（体积优先）", config.CRFStrong},
}

var wizScaleOptions = []struct {
	label string
	width int
}{
	{"original（保持原分辨率）", 0},
	{"1080p（宽 1920）", 1920},
	{"720p（宽 1280）", 1280},
	{"480p（宽 854）", 854},
}

// 0 = 保持原帧率；其余与 run 的 fps 校验共用同一候选表。
var wizFPSOptions = []int{0, 60, 50, 48, 30, 25, 24}

var wizPresetOptions = []string{"ultrafast", "veryfast", "fast", "medium", "slow", "veryslow"}

type probeDoneMsg struct {
	eff   config.EffectiveConfig
	file  domain.VideoFile
	info  domain.MediaInfo
	bins  ffmpeg.Tools
	avail map[string]bool // nil = 可用性检测失败（不阻塞，仅不标注）
	err   error
}

type encodePhaseMsg struct{ name string }

type encodeStartMsg struct{ plan domain.JobPlan }

type encodeProgressMsg struct {
	src string
	pr  domain.EncodeProgress
}

type encodeItemMsg struct{ res domain.ItemResult }

type encodeDoneMsg struct{ report domain.RunReport }

type sourceDeletedMsg struct{ err error }

type wizardModel struct {
	state wizState
	ti    textinput.Model
	sp    spinner.Model
	err   error

	pathArg string // 进入向导时带的路径（可能为空）

	eff   config.EffectiveConfig
	file  domain.VideoFile
	info  domain.MediaInfo
	bins  ffmpeg.Tools
	avail map[string]bool

	encoders   []string
	qualityIdx int
	encoderIdx int
	scaleIdx   int
	fpsIdx     int
	presetIdx  int

	events      chan tea.Msg
	cancel      context.CancelFunc
	interrupted bool
	phase       string
	curPlan     domain.JobPlan
	percent     float64
	speed       float64
	etaText     string

	notifier   notify.Notifier
	lastNotify time.Time

	report    domain.RunReport
	item      domain.ItemResult
	keepIdx   int
	deleteMsg string
}

func newWizardModel(pathArg string) wizardModel {
	ti := textinput.New()
	ti.CharLimit = 1000
	ti.Width = 60
	ti.Placeholder = "拖拽文件到这里，或输入路径…"
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	m := wizardModel{
		state:      wizPath,
		ti:         ti,
		sp:         sp,
		qualityIdx: 1, // medium
		presetIdx:  3, // medium
		notifier:   notify.Nop{},
	}

	if p := cleanDroppedPath(pathArg); p != "" {
		if _, err := os.Stat(p); err == nil {
			m.pathArg = p
			m.state = wizProbing
		} else {
			m.ti.SetValue(p)
			m.err = fmt.Errorf("找不到文件：%s", p)
		}
	}
	return m
}

func (m wizardModel) Init() tea.Cmd {
	if m.state == wizProbing {
		return tea.Batch(m.sp.Tick, probeCmd(m.pathArg))
	}
	return textinput.Blink
}

func (m wizardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			if m.state == wizEncoding {
				// 交给 run 层优雅落幕：报告仍会生成（含 canceled 条目）。
				if m.cancel != nil && !m.interrupted {
					m.interrupted = true
					m.cancel()
				}
				return m, nil
			}
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEsc {
			return m.stepBack()
		}
		return m.handleKey(msg)

	case probeDoneMsg:
		if msg.err != nil {
			var tm *ffmpeg.ToolMissingError
			if errors.As(msg.err, &tm) {
				// 工具缺失靠向导解决不了，给出安装指引后退出。
				m.state = wizError
				m.err = msg.err
				return m, tea.Quit
			}
			m.state = wizPath
			m.err = msg.err
			m.ti.SetValue(m.pathArg)
			m.ti.Focus()
			return m, textinput.Blink
		}
		m.eff = msg.eff
		m.file = msg.file
		m.info = msg.info
		m.bins = msg.bins
		m.avail = msg.avail
		m.err = nil
		m.applyConfigDefaults()
		m.state = wizQuality
		return m, nil

	case encodePhaseMsg:
		m.phase = msg.name
		return m, waitForEvent(m.events)

	case encodeStartMsg:
		m.curPlan = msg.plan
		return m, waitForEvent(m.events)

	case encodeProgressMsg:
		m.percent = msg.pr.Percent
		m.speed = msg.pr.Speed
		m.etaText = strings.TrimSpace(formatETA(msg.pr))
		if time.Since(m.lastNotify) >= 2*time.Second {
			m.lastNotify = time.Now()
			m.notifier.Update(
				fmt.Sprintf("compv %.0f%%", msg.pr.Percent),
				fmt.Sprintf("%s %.1f%%%s", msg.src, msg.pr.Percent, formatSpeed(msg.pr.Speed)),
			)
		}
		return m, waitForEvent(m.events)

	case encodeItemMsg:
		m.item = msg.res
		return m, waitForEvent(m.events)

	case encodeDoneMsg:
		m.report = msg.report
		if len(msg.report.Items) > 0 {
			m.item = msg.report.Items[0]
		}
		return m.afterEncode()

	case sourceDeletedMsg:
		if msg.err != nil {
			m.deleteMsg = fmt.Sprintf("源文件删除失败（产物完好）：%v", msg.err)
		} else {
			m.deleteMsg = "源文件已删除"
		}
		m.state = wizDone
		return m, tea.Quit

	case spinner.TickMsg:
		if m.state == wizProbing || m.state == wizEncoding {
			m.sp, cmd = m.sp.Update(msg)
			return m, cmd
		}
	}

	if m.state == wizPath {
		m.ti, cmd = m.ti.Update(msg)
	}
	return m, cmd
}

func (m wizardModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.state {
	case wizPath:
		if msg.Type == tea.KeyEnter {
			p := cleanDroppedPath(m.ti.Value())
			if p == "" {
				return m, nil
			}
			if _, err := os.Stat(p); err != nil {
				m.err = fmt.Errorf("找不到文件：%s", p)
				return m, nil
			}
			m.pathArg = p
			m.err = nil
			m.state = wizProbing
			return m, tea.Batch(m.sp.Tick, probeCmd(p))
		}
		var cmd tea.Cmd
		m.ti, cmd = m.ti.Update(msg)
		return m, cmd

	case wizQuality:
		m.qualityIdx = moveCursor(msg, m.qualityIdx, len(wizQualityOptions))
		if msg.Type == tea.KeyEnter {
			m.state = wizEncoder
		}
		return m, nil

	case wizEncoder:
		m.encoderIdx = moveCursor(msg, m.encoderIdx, len(m.encoders))
		if msg.Type == tea.KeyEnter {
			m.state = wizResolution
		}
		return m, nil

	case wizResolution:
		m.scaleIdx = moveCursor(msg, m.scaleIdx, len(wizScaleOptions))
		if msg.Type == tea.KeyEnter {
			m.state = wizFPS
		}
		return m, nil

	case wizFPS:
		m.fpsIdx = moveCursor(msg, m.fpsIdx, len(wizFPSOptions))
		if msg.Type == tea.KeyEnter {
			m.state = wizPreset
		}
		return m, nil

	case wizPreset:
		m.presetIdx = moveCursor(msg, m.presetIdx, len(wizPresetOptions))
		if msg.Type == tea.KeyEnter {
			m.state = wizConfirm
		}
		return m, nil

	case wizConfirm:
		if msg.Type == tea.KeyEnter {
			return m.startEncoding()
		}
		return m, nil

	case wizKeep:
		m.keepIdx = moveCursor(msg, m.keepIdx, 2)
		if msg.Type == tea.KeyEnter {
			if m.keepIdx == 1 {
				return m, deleteSourceCmd(m.file.AbsPath)
			}
			m.state = wizDone
			return m, tea.Quit
		}
		return m, nil
	}
	return m, nil
}

// stepBack 让 Esc 回到上一步；首步与不可回退的状态直接退出/忽略。
func (m wizardModel) stepBack() (tea.Model, tea.Cmd) {
	switch m.state {
	case wizQuality:
		m.state = wizPath
		m.ti.SetValue(m.pathArg)
		m.ti.Focus()
		return m, textinput.Blink
	case wizEncoder:
		m.state = wizQuality
	case wizResolution:
		m.state = wizEncoder
	case wizFPS:
		m.state = wizResolution
	case wizPreset:
		m.state = wizFPS
	case wizConfirm:
		m.state = wizPreset
	case wizEncoding, wizKeep:
		// 编码中 Esc 不退出（防误触），用 Ctrl+C 取消。
		return m, nil
	default:
		return m, tea.Quit
	}
	return m, nil
}

// applyConfigDefaults 把生效配置映射为各步骤的初始光标位置。
func (m *wizardModel) applyConfigDefaults() {
	m.encoders = encoder.DefaultRegistry().Names()
	for i, name := range m.encoders {
		if name == m.eff.Encoder {
			m.encoderIdx = i
		}
	}
	for i, q := range wizQualityOptions {
		if q.crf == m.eff.Quality {
			m.qualityIdx = i
		}
	}
	for i, s := range wizScaleOptions {
		if s.width == m.eff.ScaleWidth {
			m.scaleIdx = i
		}
	}
	for i, f := range wizFPSOptions {
		if f == m.eff.FPS {
			m.fpsIdx = i
		}
	}
	for i, p := range wizPresetOptions {
		if p == m.eff.Preset {
			m.presetIdx = i
		}
	}
}

func (m wizardModel) startEncoding() (tea.Model, tea.Cmd) {
	eff := m.eff
	eff.Path = m.file.AbsPath
	eff.Apply = true
	eff.KeepSource = true // 删除放到最后一步，且只在产物确实更小后提供
	eff.Concurrency = 1
	eff.Encoder = m.encoders[m.encoderIdx]
	eff.Quality = wizQualityOptions[m.qualityIdx].crf
	eff.Preset = wizPresetOptions[m.presetIdx]
	eff.ScaleWidth = wizScaleOptions[m.scaleIdx].width
	eff.FPS = wizFPSOptions[m.fpsIdx]

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.events = make(chan tea.Msg, 64)
	m.state = wizEncoding
	m.phase = "准备中"
	m.percent = 0
	m.interrupted = false
	if m.eff.Notify {
		m.notifier = notify.Detect(nil, false)
	} else {
		m.notifier = notify.Nop{}
	}

	tool := &run.FFmpegTool{
		Bins:    m.bins,
		Nice:    eff.Nice,
		Timeout: time.Duration(eff.TimeoutMinutes) * time.Minute,
	}
	return m, tea.Batch(
		m.sp.Tick,
		startEncode(ctx, cancel, eff, tool, m.events),
		waitForEvent(m.events),
	)
}

func (m wizardModel) afterEncode() (tea.Model, tea.Cmd) {
	if m.interrupted {
		m.notifier.Remove()
		m.state = wizError
		m.err = errors.New("已取消（产物未落盘，源文件未动）")
		return m, tea.Quit
	}

	switch m.item.Status {
	case domain.StatusEncoded:
		saved := int64(0)
		if m.item.SizeIn > m.item.SizeOut {
			saved = m.item.SizeIn - m.item.SizeOut
		}
		body := fmt.Sprintf("%s → %s", domain.HumanBytes(m.item.SizeIn), domain.HumanBytes(m.item.SizeOut))
		if saved > 0 {
			body += "（省 " + domain.HumanBytes(saved) + "）"
		}
		m.notifier.Finish("compv 完成", body)
		if m.item.SizeOut > 0 && m.item.SizeOut < m.item.SizeIn {
			m.state = wizKeep
			m.keepIdx = 0
			return m, nil
		}
		m.state = wizDone
		return m, tea.Quit
	case domain.StatusSkipped:
		m.notifier.Remove()
		m.state = wizDone
		return m, tea.Quit
	default:
		m.notifier.Remove()
		m.state = wizError
		if m.item.ErrorMsg != "" {
			m.err = fmt.Errorf("%s: %s", m.item.ErrorCode, m.item.ErrorMsg)
		} else {
			m.err = errors.New("编码失败")
		}
		return m, tea.Quit
	}
}

func (m wizardModel) View() string {
	var b strings.Builder

	b.WriteString(wizTitleStyle.Render(" compv 向导 "))
	b.WriteString("\n\n")

	if m.err != nil && m.state != wizError {
		b.WriteString(wizErrStyle.Render("错误: "+m.err.Error()) + "\n\n")
	}

	switch m.state {
	case wizPath:
		b.WriteString(wizStepStyle.Render("1. 选择视频文件"))
		b.WriteString("\n把文件拖进来，或直接输入路径：\n\n")
		b.WriteString(m.ti.View())
		b.WriteString("\n\n" + wizFaintStyle.Render("Enter 确认 · Esc 退出"))

	case wizProbing:
		b.WriteString(fmt.Sprintf("%s 正在探测 %s …", m.sp.View(), truncate(m.pathArg, 50)))

	case wizQuality:
		b.WriteString(wizStepStyle.Render("2. 质量档位"))
		b.WriteString("\n" + m.sourceLine() + "\n\n")
		b.WriteString(selectList(qualityLabels(), m.qualityIdx))
		b.WriteString(wizNavHint())

	case wizEncoder:
		b.WriteString(wizStepStyle.Render("3. 编码器"))
		b.WriteString("\n硬件编码器失败时自动回退 libx264。\n\n")
		b.WriteString(selectList(m.encoderLabels(), m.encoderIdx))
		b.WriteString(wizNavHint())

	case wizResolution:
		b.WriteString(wizStepStyle.Render("4. 分辨率"))
		b.WriteString(fmt.Sprintf("\n源 %dx%d；缩放只降不升。\n\n", m.info.Width, m.info.Height))
		b.WriteString(selectList(m.scaleLabels(), m.scaleIdx))
		b.WriteString(wizNavHint())

	case wizFPS:
		b.WriteString(wizStepStyle.Render("5. 帧率"))
		b.WriteString(fmt.Sprintf("\n源 %.3g fps；降帧只降不升。\n\n", m.info.FPS))
		b.WriteString(selectList(m.fpsLabels(), m.fpsIdx))
		b.WriteString(wizNavHint())

	case wizPreset:
		b.WriteString(wizStepStyle.Render("6. preset"))
		b.WriteString("\n仅 libx264 使用；硬件编码器忽略（回退时生效）。\n\n")
		b.WriteString(selectList(wizPresetOptions, m.presetIdx))
		b.WriteString(wizNavHint())

	case wizConfirm:
		b.WriteString(wizStepStyle.Render("7. 确认"))
		b.WriteString("\n\n")
		b.WriteString(m.summaryBlock())
		b.WriteString("\n" + wizFaintStyle.Render("Enter 开始编码 · Esc 返回"))

	case wizEncoding:
		b.WriteString(wizStepStyle.Render("正在压缩…"))
		b.WriteString("\n\n")
		src := m.curPlan.SrcRel
		if src == "" {
			src = m.file.RelPath
		}
		b.WriteString(fmt.Sprintf("%s %s\n\n", m.sp.View(), truncate(src, 56)))
		b.WriteString(wizProgressBar(m.percent))
		line := fmt.Sprintf("  %.1f%%", m.percent)
		if m.speed > 0 {
			line += fmt.Sprintf("  x%.2f", m.speed)
		}
		if m.etaText != "" {
			line += "  " + m.etaText
		}
		b.WriteString(line + "\n\n")
		status := "阶段: " + m.phase
		if m.interrupted {
			status = "正在取消，等待 ffmpeg 退出…"
		}
		b.WriteString(wizFaintStyle.Render(status))
		if !m.interrupted {
			b.WriteString("\n" + wizFaintStyle.Render("Ctrl+C 取消（产物不落盘）"))
		}

	case wizKeep:
		b.WriteString(wizDoneStyle.Render("压缩完成"))
		b.WriteString(fmt.Sprintf("\n\n%s → %s（省 %.1f%%）\n产物: %s\n\n",
			domain.HumanBytes(m.item.SizeIn), domain.HumanBytes(m.item.SizeOut),
			m.item.SavedPct, truncate(m.item.Dst, 60),
		))
		b.WriteString("源文件如何处理？\n\n")
		b.WriteString(selectList([]string{
			"保留源文件（默认）",
			"删除源文件（已验证产物更小）",
		}, m.keepIdx))

	case wizDone:
		b.WriteString(wizDoneStyle.Render("完成"))
		if m.item.Status == domain.StatusEncoded {
			b.WriteString(fmt.Sprintf("\n\n%s → %s（省 %.1f%%）\n产物: %s",
				domain.HumanBytes(m.item.SizeIn), domain.HumanBytes(m.item.SizeOut),
				m.item.SavedPct, m.item.Dst,
			))
			if m.item.ErrorMsg != "" {
				b.WriteString("\n" + m.item.ErrorMsg)
			}
		} else if m.item.Status == domain.StatusSkipped {
			b.WriteString("\n\n产物已存在，跳过（--force 可重压）。")
		}
		if m.deleteMsg != "" {
			b.WriteString("\n" + m.deleteMsg)
		}

	case wizError:
		b.WriteString(wizErrStyle.Render("失败"))
		if m.err != nil {
			b.WriteString("\n\n" + m.err.Error())
		}
		var tm *ffmpeg.ToolMissingError
		if errors.As(m.err, &tm) {
			b.WriteString("\n\n" + ffmpeg.InstallHint())
		}
	}

	return wizAppStyle.Render(b.String())
}

func (m wizardModel) sourceLine() string {
	return fmt.Sprintf("%s · %dx%d · %.3g fps · %s · %s",
		truncate(m.file.RelPath, 40),
		m.info.Width, m.info.Height, m.info.FPS,
		formatClock(m.info.DurationSec),
		domain.HumanBytes(m.info.SizeBytes),
	)
}

func (m wizardModel) encoderLabels() []string {
	labels := make([]string, len(m.encoders))
	for i, name := range m.encoders {
		note := ""
		if m.avail != nil {
			if m.avail[name] {
				note = "（可用）"
			} else {
				note = "（此 ffmpeg 未编译该编码器）"
			}
		}
		labels[i] = name + note
	}
	return labels
}

func (m wizardModel) scaleLabels() []string {
	labels := make([]string, len(wizScaleOptions))
	for i, o := range wizScaleOptions {
		labels[i] = o.label
		if o.width > 0 && m.info.Width > 0 && o.width >= m.info.Width {
			labels[i] += "（源更小，将保持原样）"
		}
	}
	return labels
}

func (m wizardModel) fpsLabels() []string {
	labels := make([]string, len(wizFPSOptions))
	for i, f := range wizFPSOptions {
		if f == 0 {
			labels[i] = "original（保持原帧率）"
			continue
		}
		labels[i] = fmt.Sprintf("%d fps", f)
		if m.info.FPS > 0 && float64(f) >= m.info.FPS {
			labels[i] += "（源更低，将保持原样）"
		}
	}
	return labels
}

func (m wizardModel) summaryBlock() string {
	scaleW := wizScaleOptions[m.scaleIdx].width
	if scaleW >= m.info.Width {
		scaleW = 0
	}
	crf := wizQualityOptions[m.qualityIdx].crf
	preset := wizPresetOptions[m.presetIdx]
	est := plan.EstimateSize(m.info, crf, preset, scaleW)

	var b strings.Builder
	fmt.Fprintf(&b, "  文件:    %s（%s）\n", truncate(m.file.RelPath, 50), domain.HumanBytes(m.info.SizeBytes))
	fmt.Fprintf(&b, "  产物:    %s\n", plan.OutName(m.file.Base))
	fmt.Fprintf(&b, "  编码器:  %s\n", m.encoders[m.encoderIdx])
	fmt.Fprintf(&b, "  质量:    CRF/CQ %d\n", crf)
	fmt.Fprintf(&b, "  preset:  %s\n", preset)
	fmt.Fprintf(&b, "  分辨率:  %s\n", formatScale(scaleW))
	fmt.Fprintf(&b, "  帧率:    %s\n", formatFPS(wizFPSOptions[m.fpsIdx]))
	if est > 0 {
		fmt.Fprintf(&b, "  预计体积: ~%s（经验估算，仅供参考）\n", domain.HumanBytes(est))
	}
	return b.String()
}

func qualityLabels() []string {
	labels := make([]string, len(wizQualityOptions))
	for i, q := range wizQualityOptions {
		labels[i] = q.label
	}
	return labels
}

func selectList(options []string, selected int) string {
	var b strings.Builder
	for i, o := range options {
		cursor, style := "  ", wizItemStyle
		if i == selected {
			cursor, style = "> ", wizSelectedStyle
		}
		b.WriteString(style.Render(cursor+o) + "\n")
	}
	return b.String()
}

func wizNavHint() string {
	return wizFaintStyle.Render("↑/↓ 选择 · Enter 下一步 · Esc 返回")
}

func wizProgressBar(percent float64) string {
	const width = 40
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * width)
	return "  " + wizBarFullStyle.Render(strings.Repeat("█", filled)) +
		wizBarEmptyStyle.Render(strings.Repeat("░", width-filled)) + "\n"
}

func moveCursor(msg tea.KeyMsg, idx, n int) int {
	switch msg.String() {
	case "up", "k":
		if idx > 0 {
			return idx - 1
		}
	case "down", "j":
		if idx < n-1 {
			return idx + 1
		}
	}
	return idx
}

func formatClock(sec float64) string {
	s := int(sec)
	if s < 0 {
		s = 0
	}
	if s >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", s/3600, (s%3600)/60, s%60)
	}
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}

// cleanDroppedPath 去掉终端拖拽常见的引号与空白。
func cleanDroppedPath(p string) string {
	return strings.Trim(strings.TrimSpace(p), `"'`)
}

func probeCmd(path string) tea.Cmd {
	return func() tea.Msg {
		cwd, err := os.Getwd()
		if err != nil {
			return probeDoneMsg{err: err}
		}
		eff, err := config.LoadEffective(cwd, config.CLIArgs{Path: path})
		if err != nil {
			return probeDoneMsg{err: err}
		}
		f, err := scan.One(eff.Path)
		if err != nil {
			return probeDoneMsg{err: err}
		}
		bins, err := ffmpeg.Locate(eff.FFmpegDir)
		if err != nil {
			return probeDoneMsg{err: err}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		info, err := ffmpeg.Probe(ctx, bins.FFprobe, f.AbsPath)
		if err != nil {
			return probeDoneMsg{err: err}
		}
		avail, err := ffmpeg.DetectEncoders(ctx, bins.FFmpeg)
		if err != nil {
			avail = nil
		}
		return probeDoneMsg{eff: eff, file: f, info: info, bins: bins, avail: avail}
	}
}

// startEncode 在后台跑完整的 run 流水线；过程事件经 ch 进入 Update 循环。
func startEncode(ctx context.Context, cancel context.CancelFunc, eff config.EffectiveConfig, tool run.Tool, ch chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		defer cancel()
		defer close(ch)
		rr := run.ExecuteWithObserver(ctx, eff, encoder.DefaultRegistry(), tool, chanObserver{ch: ch})
		return encodeDoneMsg{report: rr}
	}
}

func waitForEvent(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		if msg, ok := <-ch; ok {
			return msg
		}
		return nil
	}
}

func deleteSourceCmd(path string) tea.Cmd {
	return func() tea.Msg {
		return sourceDeletedMsg{err: os.Remove(path)}
	}
}

// chanObserver 把 run 的回调转成 bubbletea 消息。
// 发送永不阻塞：UI 消费不过来就丢帧，编码永远不等 UI。
type chanObserver struct{ ch chan tea.Msg }

func (o chanObserver) OnStart(config.EffectiveConfig) {}

func (o chanObserver) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	o.send(encodePhaseMsg{name: name})
}

func (o chanObserver) OnItemStart(idx, total int, p domain.JobPlan) {
	o.send(encodeStartMsg{plan: p})
}

func (o chanObserver) OnItemDone(idx, total int, src string, res domain.ItemResult, dur time.Duration) {
	o.send(encodeItemMsg{res: res})
}

func (o chanObserver) OnEncodeProgress(src string, pr domain.EncodeProgress) {
	o.send(encodeProgressMsg{src: src, pr: pr})
}

// OnProgress：向导有 spinner 常驻，不需要 keepalive 行。
func (o chanObserver) OnProgress(done, total, ok, fail, skip, active int, elapsed time.Duration) {}

func (o chanObserver) send(msg tea.Msg) {
	select {
	case o.ch <- msg:
	default:
	}
}

func wizardCmd(args []string) int {
	for _, a := range args {
		if a == "--help" || a == "-h" {
			fmt.Println("用法: compv wizard [文件]")
			fmt.Println()
			fmt.Println("逐步选择质量/编码器/分辨率/帧率后压缩单个视频文件。")
			fmt.Println("把文件直接拖到 compv 可执行文件上等价于 compv wizard <文件>。")
			return 0
		}
	}
	if len(args) > 1 {
		fmt.Fprintln(os.Stderr, "参数错误: wizard 最多接受一个文件路径")
		return 2
	}
	if !isTTY(os.Stdin) || !isTTY(os.Stderr) {
		fmt.Fprintln(os.Stderr, "wizard 需要交互式终端；非交互环境请用 compv run")
		return 2
	}

	pathArg := ""
	if len(args) == 1 {
		pathArg = args[0]
	}

	// UI 输出到 stderr，stdout 留给报告 JSON（与 run 一致）。
	p := tea.NewProgram(newWizardModel(pathArg), tea.WithOutput(os.Stderr))
	res, err := p.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "向导启动失败: %v\n", err)
		return 1
	}

	final, ok := res.(wizardModel)
	if !ok {
		return 1
	}

	// 有过一次真实编码就落报告：cache 副本 + 非 TTY stdout 的 JSON 契约。
	if final.report.RunID != "" {
		if path, err := writeReportCopy(final.report); err == nil {
			fmt.Fprintf(os.Stderr, "report: %s\n", path)
		}
		if !isTTY(os.Stdout) {
			enc := json.NewEncoder(os.Stdout)
			enc.SetEscapeHTML(false)
			_ = enc.Encode(final.report)
		}
	}

	switch final.state {
	case wizError:
		return 1
	default:
		if final.report.RunID != "" && (final.report.Summary.Failed > 0 || final.report.Summary.Unsupported > 0) {
			return 1
		}
		return 0
	}
}
