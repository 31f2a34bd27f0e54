package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"yolods/internal/catalog"
	"yolods/internal/descriptor"
	"yolods/internal/remap"
	"yolods/pkg/contract"
	rfs "yolods/plugins/reader/filesystem"
)

// source: 已加载描述文件的源数据集。
type source struct {
	ds   rfs.Dataset
	desc *descriptor.Descriptor
}

// loadSources 发现并加载各数据集描述文件；缺失或无法解析的数据集记告警后跳过。
func loadSources(ctx context.Context, env Env, parents []string, rep *contract.Report) ([]source, error) {
	var out []source
	err := env.reader().Datasets(ctx, parents, func(ds rfs.Dataset) error {
		if ds.Descriptor == "" {
			rep.Warn(contract.Warning{Kind: contract.WarnScan, Op: "descriptor", Path: ds.Root, Msg: "no descriptor, dataset skipped"})
			return nil
		}
		d, err := loadDescriptor(env, ds.Descriptor, rep)
		if err != nil {
			rep.Warn(contract.Warning{Kind: contract.WarnScan, Op: "descriptor", Path: ds.Descriptor, Msg: err.Error()})
			return nil
		}
		out = append(out, source{ds: ds, desc: d})
		return nil
	})
	return out, err
}

// ClassesSettings: classes 命令参数。
type ClassesSettings struct {
	// Parents: 数据集父目录（每个子目录一个数据集）。
	Parents []string
	// Descriptors: 额外显式指定的描述文件。
	Descriptors []string
	// Output: 非空时把并集写成 YAML 列表。
	Output string
}

// Classes 读取全部描述文件，返回去重升序的类名并集。
func Classes(ctx context.Context, env Env, set ClassesSettings) (*Summary, error) {
	sum := newSummary("classes")
	if len(set.Parents) == 0 && len(set.Descriptors) == 0 {
		return nil, errors.Wrap(contract.ErrConfig, "classes: no datasets given")
	}
	st := begin(env, "classes", "discover", 0, nil)
	sources, err := loadSources(ctx, env, set.Parents, sum.Report)
	if err != nil {
		return nil, st.fail(err)
	}
	lists := make([][]string, 0, len(sources)+len(set.Descriptors))
	for _, s := range sources {
		lists = append(lists, s.desc.Names)
	}
	for _, f := range set.Descriptors {
		d, err := loadDescriptor(env, f, sum.Report)
		if err != nil {
			sum.Report.Warn(contract.Warning{Kind: contract.WarnScan, Op: "descriptor", Path: f, Msg: err.Error()})
			continue
		}
		lists = append(lists, d.Names)
	}
	sum.Classes = catalog.Union(lists...)
	st.finish(int64(len(lists)), fmt.Sprintf("描述文件 %d | 类别 %d", len(lists), len(sum.Classes)))

	if out := strings.TrimSpace(set.Output); out != "" {
		b, err := descriptor.EncodeNames(sum.Classes)
		if err != nil {
			return nil, err
		}
		w, err := env.writer()
		if err != nil {
			return nil, err
		}
		if err := w.WriteBytes(out, b); err != nil {
			return nil, errors.Wrapf(err, "write %s", out)
		}
		sum.Descriptor = contract.NormalizePath(out)
	}
	return sum.done(env), nil
}

// MergeSettings: merge 命令参数。
type MergeSettings struct {
	Parents []string
	Output  string
	// Classes: 主类别表；为空时取各描述文件类名并集。
	Classes []string
	Policy  catalog.Policy
	// File: 输出描述文件名（位于 Output 下）。
	File     string
	Form     descriptor.NamesForm
	Absolute bool
	// ReportUnknown: 不在主表中的类记告警。
	ReportUnknown bool
	// Prefix: 输出文件名加 "<dataset>_" 前缀以避免跨数据集重名。
	Prefix bool
}

// Merge 把多个数据集按主类别表重映射后合并到 Output。
// 每个数据集按 <root>/<split>/{images,labels} 布局读取；描述文件最后写出。
func Merge(ctx context.Context, env Env, set MergeSettings) (*Summary, error) {
	sum := newSummary("merge")
	rep := sum.Report
	if strings.TrimSpace(set.Output) == "" {
		return nil, errors.Wrap(contract.ErrConfig, "merge: output not set")
	}
	if len(set.Parents) == 0 {
		return nil, errors.Wrap(contract.ErrConfig, "merge: no datasets given")
	}

	st := begin(env, "merge", "discover", 0, nil)
	sources, err := loadSources(ctx, env, set.Parents, rep)
	if err != nil {
		return nil, st.fail(err)
	}
	st.finish(int64(len(sources)), fmt.Sprintf("数据集 %d", len(sources)))

	names := set.Classes
	if len(names) == 0 {
		lists := make([][]string, 0, len(sources))
		for _, s := range sources {
			lists = append(lists, s.desc.Names)
		}
		names = dedupe(catalog.Union(lists...), set.Policy)
	}
	master, err := catalog.Build(names, set.Policy)
	if err != nil {
		return nil, errors.WithMessage(err, "merge: master classes")
	}
	mat, err := env.materializer()
	if err != nil {
		return nil, err
	}
	if err := mat.Skeleton(set.Output); err != nil {
		return nil, err
	}
	sum.Remap = &RemapStats{}
	sc := env.scanner()
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// 源类表只做位置索引，按名匹配由主表的策略完成；大小写变体都映射到同一主类。
		old, err := catalog.Build(src.desc.Names, catalog.Policy{})
		if err != nil {
			rep.Warn(contract.Warning{Kind: contract.WarnScan, Op: "descriptor", Path: src.ds.Descriptor, Msg: err.Error()})
			continue
		}
		m := mat
		if set.Prefix {
			m = mat.WithPrefix(src.ds.Name + "_")
		}
		ds := DatasetStats{Name: src.ds.Name, Images: map[contract.Split]int{}}
		for _, sp := range contract.Splits() {
			ix, err := sc.Scan(contract.Layout(src.ds.Root, sp), rep)
			if err != nil {
				return nil, err
			}
			res := remap.Remap(ix.Records, old, master, remap.Options{ReportUnknown: set.ReportUnknown, Split: sp}, rep)
			sum.Remap.add(res)
			ws := begin(env, "materialize", src.ds.Name+"/"+string(sp), len(res.Records), nil)
			stats := m.WriteSplit(set.Output, sp, res.Records, rep)
			ws.finish(int64(stats.Labels), statsDetail(stats))
			sum.addSplit(sp, stats)
			ds.Images[sp] = stats.Images
		}
		sum.Datasets = append(sum.Datasets, ds)
	}

	d := descriptor.New(set.Output, master.Names())
	if set.Absolute {
		d = d.Absolute()
	}
	p, err := mat.WriteDescriptor(set.Output, set.File, d, set.Form)
	if err != nil {
		return nil, err
	}
	sum.Classes = master.Names()
	sum.Descriptor = p
	return sum.done(env), nil
}
