// Package notify 把运行状态投递到系统层：Termux 通知栏与终端标题。
//
// 约束：
//   - 通知永远是尽力而为：外部命令失败只会静默降级，绝不打断编码流程。
//   - 调用方（progress UI / wizard）负责节流；本包不做频率控制。
package notify

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
)

// notificationID 固定通知 id：反复更新同一条通知而不是刷屏。
const notificationID = "compv"

// Notifier 是系统层通知的最小接口。
type Notifier interface {
	// Update 刷新常驻通知（编码进行中；Termux 下带 --ongoing，不可划掉）。
	Update(title, content string)
	// Finish 发送最终摘要（非 ongoing，用户可划掉）。
	Finish(title, content string)
	// Remove 移除通知（取消/中断时调用）。
	Remove()
}

// Detect 根据环境组装 Notifier：
//   - Termux（TERMUX_VERSION 或 PATH 上有 termux-notification）→ 通知栏；
//   - stderr 是 TTY → 终端标题（OSC 0）；
//   - 两者可叠加；都不可用时返回 Nop。
func Detect(tty io.Writer, isTTY bool) Notifier {
	var all multi
	if termuxAvailable() {
		all = append(all, newTermux())
	}
	if isTTY && tty != nil {
		all = append(all, &title{w: tty})
	}
	if len(all) == 0 {
		return Nop{}
	}
	return all
}

func termuxAvailable() bool {
	if os.Getenv("TERMUX_VERSION") != "" {
		return true
	}
	_, err := exec.LookPath("termux-notification")
	return err == nil
}

// Nop 什么都不做（非 Termux、非 TTY 环境）。
type Nop struct{}

func (Nop) Update(title, content string) {}
func (Nop) Finish(title, content string) {}
func (Nop) Remove()                      {}

// multi 把同一事件扇出到多个实现（Termux + 终端标题可以同时生效）。
type multi []Notifier

func (m multi) Update(title, content string) {
	for _, n := range m {
		n.Update(title, content)
	}
}

func (m multi) Finish(title, content string) {
	for _, n := range m {
		n.Finish(title, content)
	}
}

func (m multi) Remove() {
	for _, n := range m {
		n.Remove()
	}
}

// termux 通过 termux-notification / termux-notification-remove 投递通知。
// run 可注入以便测试；首次失败后禁用，避免反复拉起坏掉的外部命令。
type termux struct {
	run      func(name string, args ...string) error
	disabled atomic.Bool
}

func newTermux() *termux {
	return &termux{run: func(name string, args ...string) error {
		return exec.Command(name, args...).Run()
	}}
}

func (t *termux) Update(title, content string) {
	t.send(title, content, true)
}

func (t *termux) Finish(title, content string) {
	t.send(title, content, false)
}

func (t *termux) Remove() {
	if t.disabled.Load() {
		return
	}
	if err := t.run("termux-notification-remove", notificationID); err != nil {
		t.disabled.Store(true)
	}
}

func (t *termux) send(title, content string, ongoing bool) {
	if t.disabled.Load() {
		return
	}
	args := []string{
		"--id", notificationID,
		"--title", title,
		"--content", content,
		"--alert-once",
	}
	if ongoing {
		// 编码进行中：高优先级 + 常驻，防止被系统折叠或误划。
		args = append(args, "--priority", "high", "--ongoing")
	}
	if err := t.run("termux-notification", args...); err != nil {
		t.disabled.Store(true)
	}
}

// title 用 OSC 0 转义序列改写终端标题（写到 stderr，保持 stdout 的 JSON 契约）。
type title struct {
	w io.Writer
}

func (t *title) Update(titleText, _ string) { t.set(titleText) }
func (t *title) Finish(titleText, _ string) { t.set(titleText) }
func (t *title) Remove()                    { t.set("") }

func (t *title) set(text string) {
	fmt.Fprintf(t.w, "\x1b]0;%s\x07", text)
}
