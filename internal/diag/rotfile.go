package diag

import (
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// 当前日志文件名。
const currentLogName = "yolods-current.txt"

// RotatingFile 将日志行写入指定目录，并按文件大小轮转；实现 io.Writer。
// - 当前文件固定名：yolods-current.txt
// - 轮转：当 size+len(p) 超过 maxBytes 时，将当前文件重命名为 yolods-YYYYMMDD-HHMMSS.txt，重新创建 yolods-current.txt。
type RotatingFile struct {
	fs       afero.Fs
	dir      string
	maxBytes int64
	mu       sync.Mutex
	f        afero.File
	curSize  int64
}

// NewRotatingFile 在 fs 的 dir 下写日志；fs 为 nil 时使用 OS 文件系统。
func NewRotatingFile(fs afero.Fs, dir string, maxBytes int64) *RotatingFile {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024 // 10 MiB 默认
	}
	return &RotatingFile{fs: fs, dir: dir, maxBytes: maxBytes}
}

// Write 写入一条完整日志（zerolog 每个事件调用一次，含尾随换行）。
func (w *RotatingFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return 0, err
	}
	if w.curSize > 0 && w.curSize+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.f.Write(p)
	w.curSize += int64(n)
	return n, err
}

func (w *RotatingFile) ensureOpen() error {
	if w.f != nil {
		return nil
	}
	if err := w.fs.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	name := path.Join(w.dir, currentLogName)
	f, err := w.fs.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.f = f
	// 初始化当前大小
	if st, err := f.Stat(); err == nil {
		w.curSize = st.Size()
	} else {
		w.curSize = 0
	}
	return nil
}

func (w *RotatingFile) rotate() error {
	if w.f == nil {
		return w.ensureOpen()
	}
	_ = w.f.Close()
	w.f = nil
	oldPath := path.Join(w.dir, currentLogName)
	// 目标名称：带高精度时间戳，避免同秒冲突覆盖
	ts := time.Now().UTC().Format("20060102-150405.000000000")
	rotated := path.Join(w.dir, fmt.Sprintf("yolods-%s.txt", ts))
	if err := w.fs.Rename(oldPath, rotated); err != nil {
		return fmt.Errorf("rename rotated file: %w", err)
	}
	// 打开新 current
	return w.ensureOpen()
}

// Close 关闭当前打开的文件句柄
func (w *RotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f != nil {
		err := w.f.Close()
		w.f = nil
		return err
	}
	return nil
}
