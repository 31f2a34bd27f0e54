package filesystem

import (
	"context"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"yolods/pkg/contract"
)

// Options 为数据集发现的可选配置（最小必要）。
type Options struct {
	// Descriptor: 数据集根下描述文件名。默认 data.yaml。
	Descriptor string `json:"descriptor"`
	// ExcludeDirNames: 发现数据集时跳过这些目录名（基名，大小写不敏感）。
	// 例如 [".git","master_dataset"]。
	ExcludeDirNames []string `json:"exclude_dir_names"`
}

// Dataset: 一个被发现的数据集目录。
type Dataset struct {
	// Name: 目录基名，合并时作为文件名前缀。
	Name string
	Root string
	// Descriptor: 描述文件路径；为空表示根下没有描述文件。
	Descriptor string
}

// FileSystem 在 afero.Fs 上发现数据集与列出平铺文件。
type FileSystem struct {
	fs         afero.Fs
	descriptor string
	// 以小写形式保存，比较时按小写基名匹配。
	excludeDir map[string]struct{}
}

// New 创建 FileSystem Reader。
func New(fs afero.Fs, opts *Options) *FileSystem {
	d := "data.yaml"
	if opts != nil && strings.TrimSpace(opts.Descriptor) != "" {
		d = strings.TrimSpace(opts.Descriptor)
	}
	ex := make(map[string]struct{})
	if opts != nil {
		for _, name := range opts.ExcludeDirNames {
			if name == "" {
				continue
			}
			ex[strings.ToLower(name)] = struct{}{}
		}
	}
	return &FileSystem{fs: fs, descriptor: d, excludeDir: ex}
}

// DescriptorName 返回生效的描述文件名。
func (r *FileSystem) DescriptorName() string { return r.descriptor }

// Datasets 遍历 parents，按稳定顺序对每个数据集调用 yield。
// parent 自身含描述文件时视为单个数据集；否则其每个直接子目录视为一个数据集。
// 子目录缺少描述文件时仍然 yield（Descriptor 为空），由调用方告警跳过。
func (r *FileSystem) Datasets(ctx context.Context, parents []string, yield func(ds Dataset) error) error {
	for _, parent := range parents {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		root := contract.NormalizePath(parent)
		info, err := r.fs.Stat(root)
		if err != nil {
			return errors.Wrapf(err, "stat %s", root)
		}
		if !info.IsDir() {
			return errors.Wrapf(contract.ErrConfig, "dataset parent %s is not a directory", root)
		}
		if ds, ok := r.inspect(root); ok && ds.Descriptor != "" {
			if err := yield(ds); err != nil {
				return err
			}
			continue
		}
		if err := r.children(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) children(ctx context.Context, root string, yield func(Dataset) error) error {
	entries, err := afero.ReadDir(r.fs, root)
	if err != nil {
		return errors.Wrapf(err, "read dir %s", root)
	}
	// 稳定顺序：字典序
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !e.IsDir() {
			continue
		}
		if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		ds, _ := r.inspect(path.Join(root, e.Name()))
		if err := yield(ds); err != nil {
			return err
		}
	}
	return nil
}

// inspect 构造目录对应的 Dataset；描述文件存在时填充 Descriptor。
func (r *FileSystem) inspect(dir string) (Dataset, bool) {
	ds := Dataset{Name: path.Base(dir), Root: dir}
	p := path.Join(dir, r.descriptor)
	fi, err := r.fs.Stat(p)
	if err != nil || fi.IsDir() {
		return ds, false
	}
	ds.Descriptor = p
	return ds, true
}

// Files 列出 dir 下扩展名属于 exts 的常规文件（不递归，按名称排序）。
func (r *FileSystem) Files(ctx context.Context, dir string, exts []string) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	dir = contract.NormalizePath(dir)
	entries, err := afero.ReadDir(r.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(contract.ErrConfig, "source directory %s not found", dir)
		}
		return nil, errors.Wrapf(err, "read dir %s", dir)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Mode().IsRegular() {
			continue
		}
		if contract.IsImage(e.Name(), exts) {
			out = append(out, path.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
