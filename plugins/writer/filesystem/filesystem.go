package filesystem

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"

	"yolods/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。
	// 默认值：true。未提供该字段时采用原子写；显式 false 可关闭。
	Atomic *bool `json:"atomic,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用默认 0644/0755。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用实现默认。
	BufSize int `json:"buf_size,omitempty"`
}

// FS: 基于 afero.Fs 的文件写入器。所有目标路径使用正斜杠形式。
type FS struct {
	fs      afero.Fs
	atomic  bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
}

// New 创建文件写入器。
func New(fs afero.Fs, opts *Options) (*FS, error) {
	if fs == nil {
		return nil, os.ErrInvalid
	}
	if opts == nil {
		opts = &Options{}
	}
	bsz := opts.BufSize
	if bsz <= 0 {
		bsz = 64 * 1024
	}
	pf := opts.PermFile
	if pf == 0 {
		pf = 0o644
	}
	pd := opts.PermDir
	if pd == 0 {
		pd = 0o755
	}
	atomic := true
	if opts.Atomic != nil {
		atomic = *opts.Atomic
	}
	return &FS{fs: fs, atomic: atomic, permF: pf, permD: pd, bufSize: bsz}, nil
}

// Fs 返回底层文件系统。
func (w *FS) Fs() afero.Fs { return w.fs }

// Write 将 r 的全部字节写入 dest，必要时创建父目录。返回写入字节数。
func (w *FS) Write(dest string, r io.Reader) (int64, error) {
	dest, err := checkPath(dest)
	if err != nil {
		return 0, err
	}
	if err := w.fs.MkdirAll(path.Dir(dest), w.permD); err != nil {
		return 0, err
	}
	if w.atomic {
		return w.writeAtomic(dest, r)
	}
	return w.writeOverwrite(dest, r)
}

// WriteBytes 写入完整字节内容。
func (w *FS) WriteBytes(dest string, b []byte) error {
	_, err := w.Write(dest, bytes.NewReader(b))
	return err
}

// Copy 将 src 逐字节复制到 dest。
func (w *FS) Copy(src, dest string) (int64, error) {
	f, err := w.fs.Open(src)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return w.Write(dest, f)
}

// checkPath: 规范化并拒绝空路径与根路径。
func checkPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", contract.ErrPathInvalid
	}
	c := contract.NormalizePath(p)
	if c == "." || c == "/" || c == ".." || strings.HasSuffix(c, "/..") {
		return "", contract.ErrPathInvalid
	}
	return c, nil
}

func (w *FS) writeOverwrite(dest string, r io.Reader) (int64, error) {
	f, err := w.fs.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	if err != nil {
		return 0, err
	}
	// 确保及时关闭
	defer f.Close()

	bw := bufio.NewWriterSize(f, w.bufSize)
	n, err := io.Copy(bw, r)
	if err != nil {
		return n, err
	}
	return n, bw.Flush()
}

func (w *FS) writeAtomic(dest string, r io.Reader) (int64, error) {
	dir := path.Dir(dest)
	tmp, err := afero.TempFile(w.fs, dir, ".tmp-*")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()
	// 目标权限：尽量与期望一致
	_ = w.fs.Chmod(tmpPath, w.permF)

	bw := bufio.NewWriterSize(tmp, w.bufSize)
	n, err := io.Copy(bw, r)
	if err != nil {
		_ = bw.Flush()
		_ = tmp.Close()
		_ = w.fs.Remove(tmpPath)
		return n, err
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		_ = w.fs.Remove(tmpPath)
		return n, err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = w.fs.Remove(tmpPath)
		return n, err
	}
	if err := tmp.Close(); err != nil {
		_ = w.fs.Remove(tmpPath)
		return n, err
	}
	if err := w.fs.Rename(tmpPath, dest); err != nil {
		_ = w.fs.Remove(tmpPath)
		return n, err
	}
	return n, nil
}
