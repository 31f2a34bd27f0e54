package registry

import (
	"bytes"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"

	rfs "yolods/plugins/reader/filesystem"
	wfs "yolods/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// FilesystemOptions: 文件系统公共选项。
type FilesystemOptions struct {
	// Base: 非空时所有路径限定在该目录下（afero.BasePathFs）。
	Base string `json:"base"`
}

// NewFilesystem 工厂签名：接收原样 JSON Options。
type NewFilesystem func(raw json.RawMessage) (afero.Fs, error)

// NewReader 工厂签名：在给定文件系统上构造数据集发现器。
type NewReader func(fs afero.Fs, raw json.RawMessage) (*rfs.FileSystem, error)

// NewWriter 工厂签名：在给定文件系统上构造写入器。
type NewWriter func(fs afero.Fs, raw json.RawMessage) (*wfs.FS, error)

func based(fs afero.Fs, base string) afero.Fs {
	if base == "" {
		return fs
	}
	return afero.NewBasePathFs(fs, base)
}

// Filesystem 工厂注册表（显式、零反射）。
var Filesystem = map[string]NewFilesystem{
	// os: 真实文件系统
	"os": func(raw json.RawMessage) (afero.Fs, error) {
		var opts FilesystemOptions
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return based(afero.NewOsFs(), opts.Base), nil
	},
	// dryrun: 只读 OS 层 + 内存写时复制层；所有变更留在内存中
	"dryrun": func(raw json.RawMessage) (afero.Fs, error) {
		var opts FilesystemOptions
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		ro := afero.NewReadOnlyFs(based(afero.NewOsFs(), opts.Base))
		return afero.NewCopyOnWriteFs(ro, afero.NewMemMapFs()), nil
	},
	// mem: 纯内存（测试与演练）
	"mem": func(raw json.RawMessage) (afero.Fs, error) {
		var opts FilesystemOptions
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return based(afero.NewMemMapFs(), opts.Base), nil
	},
}

// Reader 工厂注册表。
var Reader = map[string]NewReader{
	// fs: 按目录发现数据集
	"fs": func(fs afero.Fs, raw json.RawMessage) (*rfs.FileSystem, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(fs, &opts), nil
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(fs afero.Fs, raw json.RawMessage) (*wfs.FS, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(fs, &opts)
	},
}
