package config

import (
	"strings"

	"github.com/pkg/errors"

	"yolods/internal/balance"
	"yolods/internal/catalog"
	"yolods/internal/descriptor"
	"yolods/internal/pipeline"
	"yolods/pkg/contract"
	"yolods/pkg/registry"
)

// Commands: 支持的子命令（帮助输出顺序）。
var Commands = []string{"classes", "merge", "filter", "balance", "trim", "split", "count", "yaml"}

// 组件实现名；目前各只有一个内置实现。
const (
	readerName = "fs"
	writerName = "fs"
)

func cfgErr(format string, args ...any) error {
	return errors.Wrapf(contract.ErrConfig, format, args...)
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// policy 解析类名匹配策略：命令级优先，其次全局 match.fold_case，默认区分大小写。
// policy: 命令级 > 全局 match.fold_case > 命令缺省值。
func (c Config) policy(cmd *bool, def bool) catalog.Policy {
	if cmd != nil {
		return catalog.Policy{FoldCase: *cmd}
	}
	return catalog.Policy{FoldCase: boolOr(c.Match.FoldCase, def)}
}

// Validate 对公共项与 command 的参数做静态校验（不触碰文件系统）。
func Validate(cfg Config, command string) error {
	if cfg.Workers < 1 {
		return cfgErr("workers must be >= 1")
	}
	if name := effName(cfg.Filesystem, Defaults().Filesystem); registry.Filesystem[name] == nil {
		return cfgErr("filesystem %q not registered", name)
	}
	for _, e := range cfg.Exts {
		if !strings.HasPrefix(e, ".") {
			return cfgErr("ext %q must start with '.'", e)
		}
	}
	switch command {
	case "classes":
		c := cfg.Classes
		if len(c.Parents) == 0 && len(c.Descriptors) == 0 {
			return cfgErr("classes: parents or descriptors required")
		}
	case "merge":
		c := cfg.Merge
		if len(c.Parents) == 0 {
			return cfgErr("merge: parents empty")
		}
		if blank(c.Output) {
			return cfgErr("merge: output not set")
		}
		if _, err := descriptor.ParseForm(c.NamesForm); err != nil {
			return err
		}
	case "filter":
		c := cfg.Filter
		if blank(c.Descriptor) || blank(c.Output) {
			return cfgErr("filter: descriptor and output required")
		}
		if len(c.Keep) == 0 {
			return errors.Wrap(contract.ErrNoClasses, "filter: keep empty")
		}
		if _, err := descriptor.ParseForm(c.NamesForm); err != nil {
			return err
		}
		if boolOr(c.Balance.Enabled, false) {
			if _, ok := contract.ParseSplit(c.Balance.Split); !ok {
				return cfgErr("filter: balance split %q", c.Balance.Split)
			}
			if err := balance.CheckBounds(intOr(c.Balance.Min, 0), intOr(c.Balance.Max, 0)); err != nil {
				return err
			}
		}
	case "balance":
		c := cfg.Balance
		if blank(c.Root) {
			return cfgErr("balance: root not set")
		}
		if len(c.Names) == 0 && blank(c.Descriptor) {
			return cfgErr("balance: names or descriptor required")
		}
		if _, ok := contract.ParseSplit(c.Split); !ok {
			return cfgErr("balance: split %q", c.Split)
		}
		if err := balance.CheckBounds(intOr(c.Min, 0), intOr(c.Max, 0)); err != nil {
			return err
		}
	case "trim":
		c := cfg.Trim
		if blank(c.Source) || blank(c.Output) {
			return cfgErr("trim: source and output required")
		}
		if c.Limit <= 0 {
			return cfgErr("trim: limit must be > 0")
		}
		if _, err := descriptor.ParseForm(c.NamesForm); err != nil {
			return err
		}
	case "split":
		c := cfg.Split
		if blank(c.Source) || blank(c.Output) {
			return cfgErr("split: source and output required")
		}
		valid := 0.0
		if c.Valid != nil {
			valid = *c.Valid
		}
		if err := pipeline.CheckRatios(c.Train, valid); err != nil {
			return err
		}
	case "count":
		c := cfg.Count
		if blank(c.Root) {
			return cfgErr("count: root not set")
		}
		if _, err := pipeline.ParseFormat(c.Format); err != nil {
			return err
		}
	case "yaml":
		c := cfg.Yaml
		if blank(c.Root) {
			return cfgErr("yaml: root not set")
		}
		if len(c.Names) == 0 {
			return errors.Wrap(contract.ErrNoClasses, "yaml: names empty")
		}
		if _, err := descriptor.ParseForm(c.NamesForm); err != nil {
			return err
		}
	default:
		return cfgErr("unknown command %q", command)
	}
	return nil
}

// Assemble 校验后构造运行环境（文件系统、Reader、Writer、随机源）。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config, command string) (pipeline.Env, error) {
	if err := Validate(cfg, command); err != nil {
		return pipeline.Env{}, err
	}
	fsName := effName(cfg.Filesystem, Defaults().Filesystem)
	fs, err := registry.Filesystem[fsName](cfg.Options.Filesystem)
	if err != nil {
		return pipeline.Env{}, cfgErr("filesystem options: %v", err)
	}
	r, err := registry.Reader[readerName](fs, cfg.Options.Reader)
	if err != nil {
		return pipeline.Env{}, cfgErr("reader options: %v", err)
	}
	w, err := registry.Writer[writerName](fs, cfg.Options.Writer)
	if err != nil {
		return pipeline.Env{}, cfgErr("writer options: %v", err)
	}
	rng, seed := pipeline.NewRand(cfg.Seed)
	return pipeline.Env{
		FS:      fs,
		Reader:  r,
		Writer:  w,
		Rand:    rng,
		Seed:    seed,
		Workers: cfg.Workers,
		Exts:    cloneStrings(cfg.Exts),
	}, nil
}

// ClassesSettings 构造 classes 参数。
func (c Config) ClassesSettings() pipeline.ClassesSettings {
	return pipeline.ClassesSettings{
		Parents:     cloneStrings(c.Classes.Parents),
		Descriptors: cloneStrings(c.Classes.Descriptors),
		Output:      c.Classes.Output,
	}
}

// MergeSettings 构造 merge 参数。
func (c Config) MergeSettings() pipeline.MergeSettings {
	m := c.Merge
	form, _ := descriptor.ParseForm(m.NamesForm)
	return pipeline.MergeSettings{
		Parents:       cloneStrings(m.Parents),
		Output:        m.Output,
		Classes:       cloneStrings(m.Classes),
		Policy:        c.policy(m.FoldCase, true),
		File:          m.File,
		Form:          form,
		Absolute:      boolOr(m.Absolute, true),
		ReportUnknown: boolOr(m.ReportUnknown, true),
		Prefix:        boolOr(m.Prefix, true),
	}
}

// FilterSettings 构造 filter 参数。
func (c Config) FilterSettings() pipeline.FilterSettings {
	f := c.Filter
	form, _ := descriptor.ParseForm(f.NamesForm)
	sp, _ := contract.ParseSplit(f.Balance.Split)
	return pipeline.FilterSettings{
		Descriptor: f.Descriptor,
		Output:     f.Output,
		Keep:       cloneStrings(f.Keep),
		Policy:     c.policy(f.FoldCase, false),
		File:       f.File,
		Form:       form,
		Absolute:   boolOr(f.Absolute, true),
		Balance: pipeline.BalanceStage{
			Enabled: boolOr(f.Balance.Enabled, false),
			Split:   sp,
			Min:     intOr(f.Balance.Min, 0),
			Max:     intOr(f.Balance.Max, 0),
		},
	}
}

// BalanceSettings 构造 balance 参数。
func (c Config) BalanceSettings() pipeline.BalanceSettings {
	b := c.Balance
	sp, _ := contract.ParseSplit(b.Split)
	return pipeline.BalanceSettings{
		Root:       b.Root,
		Descriptor: b.Descriptor,
		Names:      cloneStrings(b.Names),
		Policy:     c.policy(b.FoldCase, false),
		Split:      sp,
		Min:        intOr(b.Min, 0),
		Max:        intOr(b.Max, 0),
	}
}

// TrimSettings 构造 trim 参数。
func (c Config) TrimSettings() pipeline.TrimSettings {
	t := c.Trim
	var form descriptor.NamesForm
	if !blank(t.NamesForm) {
		form, _ = descriptor.ParseForm(t.NamesForm)
	}
	return pipeline.TrimSettings{
		Source:           t.Source,
		Output:           t.Output,
		Limit:            t.Limit,
		SourceDescriptor: t.SourceDescriptor,
		File:             t.File,
		Form:             form,
		Clean:            boolOr(t.Clean, true),
	}
}

// SplitSettings 构造 split 参数。
func (c Config) SplitSettings() pipeline.SplitSettings {
	s := c.Split
	valid := 0.0
	if s.Valid != nil {
		valid = *s.Valid
	}
	return pipeline.SplitSettings{
		Source: s.Source,
		Output: s.Output,
		Train:  s.Train,
		Valid:  valid,
		Exts:   cloneStrings(s.Exts),
	}
}

// CountSettings 构造 count 参数及报告格式。
func (c Config) CountSettings() (pipeline.CountSettings, string) {
	format, _ := pipeline.ParseFormat(c.Count.Format)
	return pipeline.CountSettings{Root: c.Count.Root, Descriptor: c.Count.Descriptor}, format
}

// DescriptorSettings 构造 yaml 参数。
func (c Config) DescriptorSettings() pipeline.DescriptorSettings {
	y := c.Yaml
	form, _ := descriptor.ParseForm(y.NamesForm)
	return pipeline.DescriptorSettings{
		Root:     y.Root,
		Names:    cloneStrings(y.Names),
		Policy:   c.policy(y.FoldCase, false),
		File:     y.File,
		Form:     form,
		Absolute: boolOr(y.Absolute, true),
	}
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
