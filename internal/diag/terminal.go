package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认建议 stderr）。
// - TTY: 阶段进度由进度条渲染；非 TTY: 关键节点分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	// 运行期最小状态
	command  string
	workers  int
	stepsRun int
	runStart time.Time

	// 当前阶段
	step      string
	stepTotal int
	stepDone  int
	bar       *progressbar.ProgressBar

	mu sync.Mutex
}

// 进程级终端（可选，全局设置后供 pipeline 旁路调用）。
var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器。
// enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	// CI 环境视为非 TTY
	if os.Getenv("CI") != "" {
		t.isTTY = false
	} else if f, ok := w.(*os.File); ok {
		// 最小 TTY 判定：字符设备
		if fi, err := f.Stat(); err == nil {
			t.isTTY = fi.Mode()&os.ModeCharDevice != 0
		}
	}
	return t
}

// RunStart: 记录运行上下文（命令、复制并发）。
func (t *Terminal) RunStart(command string, workers int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.command = safe(command)
	t.workers = workers
	t.stepsRun = 0
	t.runStart = time.Now()
	t.println(fmt.Sprintf("[run] %s | 并发=%d", t.command, workers))
}

// StepStart: 开始一个阶段（扫描/复制/均衡等）；total<=0 表示未知总量。
func (t *Terminal) StepStart(name string, total int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.step = shorten(safe(name), 48)
	t.stepTotal = total
	t.stepDone = 0
	if !t.isTTY {
		t.println(fmt.Sprintf("[step] %s | 计划 %d", t.step, total))
		return
	}
	size := total
	if size <= 0 {
		size = -1
	}
	t.bar = progressbar.NewOptions(size,
		progressbar.OptionSetWriter(&guardWriter{t: t}),
		progressbar.OptionSetDescription(t.step),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// Advance: 阶段进度 +n（TTY 渲染进度条；非 TTY 只计数）。
func (t *Terminal) Advance(n int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.stepDone += n
	if t.isTTY && t.bar != nil {
		_ = t.bar.Add(n)
	}
}

// StepFinish: 完成当前阶段（清除进度条并输出一行结论）。
func (t *Terminal) StepFinish(ok bool, detail string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.stepsRun++
	if t.bar != nil {
		_ = t.bar.Finish()
		t.bar = nil
	}
	status := "done"
	if !ok {
		status = "fail"
	}
	line := fmt.Sprintf("[%s] %s | %d", status, t.step, t.stepDone)
	if t.stepTotal > 0 {
		line = fmt.Sprintf("[%s] %s | %d/%d", status, t.step, t.stepDone, t.stepTotal)
	}
	if detail != "" {
		line += " | " + safe(detail)
	}
	t.println(line)
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(ok bool, dur time.Duration, summary string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	tag := "ok"
	if !ok {
		tag = "fail"
	}
	line := fmt.Sprintf("[%s] %s 完成 | 阶段 %d | 总用时 %s", tag, t.command, t.stepsRun, formatDur(dur))
	if summary != "" {
		line += " | " + safe(summary)
	}
	t.println(line)
}

// 内部输出工具
func (t *Terminal) println(s string) {
	if t == nil || !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		// 写失败即禁用
		t.enabled = false
	}
}

// guardWriter: 进度条写失败时同样禁用终端。调用方已持有 t.mu。
type guardWriter struct{ t *Terminal }

func (g *guardWriter) Write(p []byte) (int, error) {
	if !g.t.enabled {
		return len(p), nil
	}
	n, err := g.t.w.Write(p)
	if err != nil {
		g.t.enabled = false
	}
	return n, err
}

// shorten: 按可见宽度截断（尾部省略号）。
func shorten(s string, width int) string {
	if width <= 0 {
		return ""
	}
	rs := []rune(strings.TrimSpace(s))
	if len(rs) <= width {
		return string(rs)
	}
	return string(rs[:width-1]) + "…"
}

func safe(s string) string {
	// 避免换行等控制字符污染终端
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms <= 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	// 秒，保留 1 位小数
	s := float64(d.Milliseconds()) / 1000.0
	return fmt.Sprintf("%.1fs", s)
}
