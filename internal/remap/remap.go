package remap

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"yolods/internal/catalog"
	"yolods/pkg/contract"
)

// Options 控制告警粒度。
type Options struct {
	// ReportUnknown: 目标目录中不存在的类名逐行告警（合并时使用）。
	ReportUnknown bool
	// Split: 仅用于告警上下文。
	Split contract.Split
}

// Result: 重映射结果。Records 仅包含至少保留一行标注的记录。
type Result struct {
	Records      map[string]*contract.LabelRecord
	Catalog      *catalog.Catalog
	Kept         int
	Dropped      int
	LinesKept    int
	LinesDropped int
}

// Names 返回保留记录的基名（升序）。
func (r *Result) Names() []string {
	out := make([]string, 0, len(r.Records))
	for n := range r.Records {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Remap 将 records 中的类索引从 old 改写为 target 索引。
// - 越界旧索引：告警并丢弃该行；
// - 类名不在 target：丢弃该行；
// - 全部行被丢弃的记录整体丢弃；
// - 几何字段原样保留，行顺序不变。
// 输入记录不被修改。
func Remap(records map[string]*contract.LabelRecord, old, target *catalog.Catalog, opts Options, rep *contract.Report) *Result {
	m := catalog.IndexMap(old, target)
	res := &Result{Records: make(map[string]*contract.LabelRecord, len(records)), Catalog: target}

	names := make([]string, 0, len(records))
	for n := range records {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		src := records[n]
		out := src.Clone()
		out.Lines = out.Lines[:0]
		for _, a := range src.Lines {
			if !old.Valid(a.Class) {
				rep.Warn(contract.Warning{Kind: contract.WarnScan, Op: "remap", Split: opts.Split, Path: src.LabelPath,
					Msg: fmt.Sprintf("class index %d out of range [0,%d)", a.Class, old.Len())})
				res.LinesDropped++
				continue
			}
			ni, ok := m.Lookup(a.Class)
			if !ok {
				if opts.ReportUnknown {
					name, _ := old.Name(a.Class)
					rep.Warn(contract.Warning{Kind: contract.WarnScan, Op: "remap", Split: opts.Split, Path: src.LabelPath, Class: name, Msg: "unknown class"})
				}
				res.LinesDropped++
				continue
			}
			g := make([]string, len(a.Geometry))
			copy(g, a.Geometry)
			out.Lines = append(out.Lines, contract.Annotation{Class: ni, Geometry: g})
			res.LinesKept++
		}
		if len(out.Lines) == 0 {
			res.Dropped++
			continue
		}
		res.Records[n] = out
		res.Kept++
	}
	return res
}

// KeepCatalog 构造保留子集目录：按调用方给定顺序，重复项只取首次；keep 中不在 old 的名称告警。
// 一个都不存在时返回 ErrNoClasses。
func KeepCatalog(old *catalog.Catalog, keep []string, p catalog.Policy, rep *contract.Report) (*catalog.Catalog, error) {
	lookup, err := catalog.Build(old.Names(), p)
	if err != nil {
		return nil, err
	}
	var present []string
	seen := map[int]struct{}{}
	for _, k := range keep {
		i, ok := lookup.IndexOf(k)
		if !ok {
			rep.Warn(contract.Warning{Kind: contract.WarnScan, Op: "filter", Class: k, Msg: "class not present in source catalog"})
			continue
		}
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		name, _ := old.Name(i)
		present = append(present, name)
	}
	if len(present) == 0 {
		return nil, errors.Wrap(contract.ErrNoClasses, "none of the requested classes exist")
	}
	// 目标沿用源目录中的拼写
	return catalog.Build(present, p)
}
