package diag

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger 为结构化事件日志器：单行 JSON（zerolog），字段 comp/stage/code/dur_ms/count/kv。
// nil Logger 的所有方法均为 no-op。
type Logger struct {
	zl   zerolog.Logger
	sink io.Closer
}

// NewLogger 以配置的 level 初始化，写入 logs/yolods-current.txt，10MiB 轮转。
func NewLogger(corrID, level string) *Logger {
	sink := NewRotatingFile(nil, "logs", 10*1024*1024)
	l := NewLoggerTo(sink, corrID, level)
	l.sink = sink
	return l
}

// NewLoggerTo 将日志写到任意 io.Writer（测试或自定义落地）。
func NewLoggerTo(w io.Writer, corrID, level string) *Logger {
	if w == nil {
		w = os.Stderr
	}
	zl := zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("corr_id", corrID).
		Logger()
	return &Logger{zl: zl}
}

// ParseLevel 解析日志级别；未知值按 info 处理。
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Close 关闭文件落地（若有）。
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

func withKV(ev *zerolog.Event, kv map[string]string) *zerolog.Event {
	if len(kv) == 0 {
		return ev
	}
	d := zerolog.Dict()
	for k, v := range kv {
		d = d.Str(k, v)
	}
	return ev.Dict("kv", d)
}

func durMS(since *time.Time) int64 {
	if since == nil {
		return 0
	}
	return time.Since(*since).Milliseconds()
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	return l.StartWithKV(comp, msg, nil)
}

// StartWithKV 记录带键值的 start。
func (l *Logger) StartWithKV(comp, msg string, kv map[string]string) *Timer {
	if l == nil {
		return nil
	}
	withKV(l.zl.Info().Str("comp", comp).Str("stage", "start"), kv).Msg(msg)
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// Warn 记录 warn 事件（用于汇总非致命告警）。
func (l *Logger) Warn(comp, msg string, kv map[string]string) {
	if l == nil {
		return
	}
	withKV(l.zl.Warn().Str("comp", comp).Str("stage", "warn"), kv).Msg(msg)
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, nil)
}

// ErrorWithKV 支持附带键值对（例如路径、分区）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, kv map[string]string) {
	if l == nil {
		return
	}
	ev := l.zl.Error().Str("comp", comp).Str("stage", "error").Str("code", code)
	if d := durMS(durSince); d > 0 {
		ev = ev.Int64("dur_ms", d)
	}
	withKV(ev, kv).Msg(msg)
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	if l == nil {
		return
	}
	l.zl.Info().Str("comp", comp).Str("stage", "finish").
		Int64("dur_ms", time.Since(start).Milliseconds()).Int64("count", count).Msg(msg)
}

// Debug 输出调试级别事件（仅在 level=debug 时生效）。
func (l *Logger) Debug(comp, msg string, kv map[string]string) {
	if l == nil {
		return
	}
	withKV(l.zl.Debug().Str("comp", comp).Str("stage", "debug"), kv).Msg(msg)
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l    *Logger
	comp string
	t0   time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	t.FinishKV(msg, count, nil)
}

// FinishKV 记录带键值的 finish。
func (t *Timer) FinishKV(msg string, count int64, kv map[string]string) {
	if t == nil || t.l == nil {
		return
	}
	ev := t.l.zl.Info().Str("comp", t.comp).Str("stage", "finish").
		Int64("dur_ms", time.Since(t.t0).Milliseconds()).Int64("count", count)
	withKV(ev, kv).Msg(msg)
}

// Since 返回计时起点（用于 Error 的 durSince）。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	t0 := t.t0
	return &t0
}
