package pipeline

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/pkg/errors"

	"yolods/internal/balance"
	"yolods/internal/catalog"
	"yolods/internal/descriptor"
	"yolods/internal/remap"
	"yolods/pkg/contract"
)

// BalanceStage: filter 之后可选的均衡阶段。
type BalanceStage struct {
	Enabled bool
	Split   contract.Split
	Min     int
	Max     int
}

// FilterSettings: filter 命令参数。
type FilterSettings struct {
	// Descriptor: 源数据集描述文件；分区目录按其中的路径解析。
	Descriptor string
	Output     string
	// Keep: 要保留的类名，输出类别表按此顺序编号。
	Keep     []string
	Policy   catalog.Policy
	File     string
	Form     descriptor.NamesForm
	Absolute bool
	Balance  BalanceStage
}

// Filter 只保留 Keep 中的类并重新编号，写出新数据集；可选地随后均衡一个分区。
func Filter(ctx context.Context, env Env, set FilterSettings) (*Summary, error) {
	sum := newSummary("filter")
	rep := sum.Report
	if strings.TrimSpace(set.Output) == "" {
		return nil, errors.Wrap(contract.ErrConfig, "filter: output not set")
	}
	src, err := loadDescriptor(env, set.Descriptor, rep)
	if err != nil {
		return nil, err
	}
	old, err := catalog.Build(src.Names, set.Policy)
	if err != nil {
		return nil, errors.WithMessage(err, "filter: source classes")
	}
	target, err := remap.KeepCatalog(old, set.Keep, set.Policy, rep)
	if err != nil {
		return nil, errors.WithMessage(err, "filter")
	}
	if set.Balance.Enabled {
		if err := balance.CheckBounds(set.Balance.Min, set.Balance.Max); err != nil {
			return nil, err
		}
		if env.Rand == nil {
			return nil, errors.Wrap(contract.ErrConfig, "filter: random source required for balance")
		}
	}

	mat, err := env.materializer()
	if err != nil {
		return nil, err
	}
	if err := mat.Skeleton(set.Output); err != nil {
		return nil, err
	}
	paths, skipped := src.SplitPaths(path.Dir(contract.NormalizePath(set.Descriptor)))
	for _, s := range skipped {
		rep.Warn(contract.Warning{Kind: contract.WarnScan, Op: "descriptor", Split: s.Split, Path: s.Images, Msg: s.Reason + ", split skipped"})
	}
	sum.Remap = &RemapStats{}
	sc := env.scanner()
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ix, err := sc.Scan(p, rep)
		if err != nil {
			return nil, err
		}
		res := remap.Remap(ix.Records, old, target, remap.Options{Split: p.Split}, rep)
		sum.Remap.add(res)
		ws := begin(env, "materialize", string(p.Split), len(res.Records), nil)
		stats := mat.WriteSplit(set.Output, p.Split, res.Records, rep)
		ws.finish(int64(stats.Labels), statsDetail(stats))
		sum.addSplit(p.Split, stats)
	}

	if set.Balance.Enabled {
		sum.Seed = env.Seed
		res, err := runBalance(env, contract.Layout(set.Output, set.Balance.Split), target, set.Balance.Min, set.Balance.Max, rep)
		if err != nil {
			return nil, err
		}
		sum.Balance = res
	}

	d := descriptor.New(set.Output, target.Names())
	if set.Absolute {
		d = d.Absolute()
	}
	p, err := mat.WriteDescriptor(set.Output, set.File, d, set.Form)
	if err != nil {
		return nil, err
	}
	sum.Classes = target.Names()
	sum.Descriptor = p
	return sum.done(env), nil
}

func runBalance(env Env, p contract.SplitPaths, cat *catalog.Catalog, lo, hi int, rep *contract.Report) (*balance.Result, error) {
	st := begin(env, "balance", string(p.Split), 0, map[string]string{
		"min": fmt.Sprint(lo), "max": fmt.Sprint(hi), "seed": fmt.Sprint(env.Seed),
	})
	res, err := balance.New(env.FS, env.Rand, env.Exts).Balance(p, cat, lo, hi, rep)
	if err != nil {
		return nil, st.fail(err)
	}
	st.finish(int64(res.Removed+res.Duplicated), fmt.Sprintf("删除 %d 复制 %d", res.Removed, res.Duplicated))
	return res, nil
}

// BalanceSettings: balance 命令参数。
type BalanceSettings struct {
	Root string
	// Descriptor: 提供类名的描述文件（相对 Root）；Names 非空时忽略。
	Descriptor string
	Names      []string
	Policy     catalog.Policy
	Split      contract.Split
	Min        int
	Max        int
}

// Balance 对已有数据集的单个分区就地均衡。
func Balance(ctx context.Context, env Env, set BalanceSettings) (*Summary, error) {
	sum := newSummary("balance")
	sum.Seed = env.Seed
	if strings.TrimSpace(set.Root) == "" {
		return nil, errors.Wrap(contract.ErrConfig, "balance: root not set")
	}
	if err := balance.CheckBounds(set.Min, set.Max); err != nil {
		return nil, err
	}
	names := set.Names
	if len(names) == 0 {
		file := set.Descriptor
		if !path.IsAbs(contract.NormalizePath(file)) {
			file = path.Join(contract.NormalizePath(set.Root), file)
		}
		d, err := loadDescriptor(env, file, sum.Report)
		if err != nil {
			return nil, err
		}
		names = d.Names
	}
	cat, err := catalog.Build(names, set.Policy)
	if err != nil {
		return nil, errors.WithMessage(err, "balance")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sp := set.Split
	if sp == "" {
		sp = contract.SplitTrain
	}
	res, err := runBalance(env, contract.Layout(set.Root, sp), cat, set.Min, set.Max, sum.Report)
	if err != nil {
		return nil, err
	}
	sum.Balance = res
	sum.Classes = cat.Names()
	return sum.done(env), nil
}
