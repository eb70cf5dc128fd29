package encoder

import (
	"fmt"
	"sort"
	"strings"
)

// Registry 是编码器的只读注册表（按 name 索引）。
// 用 map 做 O(1) 查找；编码器数量极小，保持简单即可。
type Registry struct {
	byName map[string]Encoder
}

func NewRegistry(encoders ...Encoder) (Registry, error) {
	byName := make(map[string]Encoder, len(encoders))
	for _, e := range encoders {
		if e == nil {
			return Registry{}, fmt.Errorf("encoder 不能为空")
		}
		name := strings.ToLower(strings.TrimSpace(e.Name()))
		if name == "" {
			return Registry{}, fmt.Errorf("encoder.Name 不能为空")
		}
		if _, ok := byName[name]; ok {
			return Registry{}, fmt.Errorf("重复的 encoder：%q", name)
		}
		byName[name] = e
	}
	return Registry{byName: byName}, nil
}

// DefaultRegistry 返回内置的四个实现。
func DefaultRegistry() Registry {
	r, err := NewRegistry(X264{}, NVENC{}, AMF{}, QSV{})
	if err != nil {
		// 内置集合冲突属于编程错误。
		panic(err)
	}
	return r
}

func (r Registry) Get(name string) (Encoder, bool) {
	if r.byName == nil {
		return nil, false
	}
	name = strings.ToLower(strings.TrimSpace(name))
	e, ok := r.byName[name]
	return e, ok
}

// Names 返回已注册编码器名（字典序，稳定输出）。
func (r Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FallbackOrder 返回一次任务要依次尝试的编码器名。
//
// 硬件编码失败（驱动缺失、硬件忙）时回退 libx264 重试；
// libx264 自身失败没有更低一级可退，不再重试。
func FallbackOrder(requested string) []string {
	requested = strings.ToLower(strings.TrimSpace(requested))
	if requested == "" || requested == (X264{}).Name() {
		return []string{(X264{}).Name()}
	}
	return []string{requested, (X264{}).Name()}
}
