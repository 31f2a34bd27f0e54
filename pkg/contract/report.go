package contract

import (
	"sort"
	"sync"
)

// WarningKind: 非致命问题分类。
type WarningKind string

const (
	// WarnScan: 缺目录、图片未匹配、非法标注行、类索引越界等；受影响条目被排除，处理继续。
	WarnScan WarningKind = "scan"
	// WarnIO: 单个复制/删除失败；尽力而为，处理继续。
	WarnIO WarningKind = "io"
)

// Warning: 结构化告警条目（替代打印）。
type Warning struct {
	Kind  WarningKind `json:"kind"`
	Op    string      `json:"op"`
	Split Split       `json:"split,omitempty"`
	Path  string      `json:"path,omitempty"`
	Class string      `json:"class,omitempty"`
	Msg   string      `json:"msg"`
}

// Report 汇总一次运行中的告警；并发安全，零值可用。
type Report struct {
	mu       sync.Mutex
	warnings []Warning
}

// Warn 追加一条告警。
func (r *Report) Warn(w Warning) {
	if r == nil {
		return
	}
	if w.Path != "" {
		w.Path = NormalizePath(w.Path)
	}
	r.mu.Lock()
	r.warnings = append(r.warnings, w)
	r.mu.Unlock()
}

// Warnings 返回告警副本，按写入顺序。
func (r *Report) Warnings() []Warning {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Warning, len(r.warnings))
	copy(out, r.warnings)
	return out
}

// Merge 追加 other 的全部告警。
func (r *Report) Merge(other *Report) {
	if r == nil || other == nil || r == other {
		return
	}
	ws := other.Warnings()
	r.mu.Lock()
	r.warnings = append(r.warnings, ws...)
	r.mu.Unlock()
}

// Count 返回指定分类的告警数；kind 为空时返回总数。
func (r *Report) Count(kind WarningKind) int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if kind == "" {
		return len(r.warnings)
	}
	n := 0
	for _, w := range r.warnings {
		if w.Kind == kind {
			n++
		}
	}
	return n
}

// ByOp 按 op 统计告警数（用于终端/日志汇总）。
func (r *Report) ByOp() map[string]int {
	out := map[string]int{}
	for _, w := range r.Warnings() {
		out[w.Op]++
	}
	return out
}

// SortStable 以 (split, path, op) 稳定排序，消除并发写入带来的顺序抖动。
func (r *Report) SortStable() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sort.SliceStable(r.warnings, func(i, j int) bool {
		a, b := r.warnings[i], r.warnings[j]
		if a.Split != b.Split {
			return a.Split < b.Split
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Op < b.Op
	})
}
