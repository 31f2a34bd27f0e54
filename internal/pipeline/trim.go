package pipeline

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"yolods/internal/balance"
	"yolods/internal/descriptor"
	"yolods/internal/materialize"
	"yolods/pkg/contract"
)

// TrimSettings: trim 命令参数。
type TrimSettings struct {
	Source string
	Output string
	// Limit: 每类最多保留的图片数（跨分区计）。
	Limit int
	// SourceDescriptor: 源描述文件名（相对 Source）；缺失时只告警。
	SourceDescriptor string
	File             string
	// Form: 为空时沿用源描述文件的 names 形态。
	Form             descriptor.NamesForm
	// Clean: 开始前删除 Output 整棵目录。
	Clean bool
}

// Trim 跨分区按类限额抽样保留图片，复制到 Output 的同名分区，并改写描述文件路径。
func Trim(ctx context.Context, env Env, set TrimSettings) (*Summary, error) {
	sum := newSummary("trim")
	sum.Seed = env.Seed
	rep := sum.Report
	if err := checkTrim(env, set); err != nil {
		return nil, err
	}
	if env.Rand == nil {
		return nil, errors.Wrap(contract.ErrConfig, "trim: random source required")
	}

	st := begin(env, "trim", "index", 0, nil)
	m, err := env.scanner().ScanAll(set.Source, contract.Splits(), rep)
	if err != nil {
		return nil, st.fail(err)
	}
	st.finish(int64(len(m.Membership)), fmt.Sprintf("图片 %d | 类别 %d", len(m.Membership), len(m.Classes())))

	keep := balance.Trim(m, set.Limit, env.Rand)
	sum.Kept = len(keep)
	env.Logger.Debug("trim", "keep set", map[string]string{"kept": fmt.Sprint(len(keep)), "limit": fmt.Sprint(set.Limit)})

	mat, err := env.materializer()
	if err != nil {
		return nil, err
	}
	if set.Clean {
		if err := mat.Clean(set.Output); err != nil {
			return nil, err
		}
	}
	if err := mat.Skeleton(set.Output); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keep))
	for n := range keep {
		names = append(names, n)
	}
	sort.Strings(names)
	pairs := map[contract.Split][]materialize.Pair{}
	for _, n := range names {
		r, sp, ok := m.Record(n)
		if !ok {
			continue
		}
		pairs[sp] = append(pairs[sp], materialize.Pair{Name: n, Image: r.ImagePath, Label: r.LabelPath})
	}
	for _, sp := range contract.Splits() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ws := begin(env, "materialize", string(sp), len(pairs[sp]), nil)
		stats := mat.CopyPairs(contract.Layout(set.Output, sp), pairs[sp], rep)
		ws.finish(int64(stats.Images), statsDetail(stats))
		sum.addSplit(sp, stats)
	}

	srcFile := path.Join(contract.NormalizePath(set.Source), set.SourceDescriptor)
	if ok, _ := afero.Exists(env.FS, srcFile); !ok {
		rep.Warn(contract.Warning{Kind: contract.WarnScan, Op: "descriptor", Path: srcFile, Msg: "source descriptor not found, none written"})
		return sum.done(env), nil
	}
	d, err := loadDescriptor(env, srcFile, rep)
	if err != nil {
		rep.Warn(contract.Warning{Kind: contract.WarnScan, Op: "descriptor", Path: srcFile, Msg: err.Error()})
		return sum.done(env), nil
	}
	d.Path = "../" + path.Base(contract.NormalizePath(set.Output))
	d.Train = "./train/images"
	d.Val = "./valid/images"
	d.Test = "./test/images"
	form := set.Form
	if form == "" {
		form = d.Form
	}
	p, err := mat.WriteDescriptor(set.Output, set.File, d, form)
	if err != nil {
		return nil, err
	}
	sum.Classes = d.Names
	sum.Descriptor = p
	return sum.done(env), nil
}

func checkTrim(env Env, set TrimSettings) error {
	if set.Limit <= 0 {
		return errors.Wrapf(contract.ErrConfig, "trim: limit must be > 0, got %d", set.Limit)
	}
	if strings.TrimSpace(set.Source) == "" || strings.TrimSpace(set.Output) == "" {
		return errors.Wrap(contract.ErrConfig, "trim: source and output required")
	}
	src := contract.NormalizePath(strings.TrimSpace(set.Source))
	absSrc, absOut := absPath(set.Source), absPath(set.Output)
	// clean 会删除 Output 整棵树：两者不得相同或互相包含。
	if absSrc == absOut || within(absOut, absSrc) || within(absSrc, absOut) {
		return errors.Wrapf(contract.ErrConfig, "trim: output %s overlaps source %s", absOut, absSrc)
	}
	if ok, _ := afero.DirExists(env.FS, src); !ok {
		return errors.Wrapf(contract.ErrConfig, "trim: source %s not found", src)
	}
	return nil
}

// absPath 规范化并转为绝对路径；相对路径按当前目录解析。
func absPath(p string) string {
	p = contract.NormalizePath(strings.TrimSpace(p))
	a, err := filepath.Abs(filepath.FromSlash(p))
	if err != nil {
		return p
	}
	return contract.NormalizePath(filepath.ToSlash(a))
}

// within 报告 child 是否位于 parent 之下（不含相等）。
func within(child, parent string) bool {
	if parent == "/" {
		return child != "/"
	}
	return strings.HasPrefix(child, parent+"/")
}
