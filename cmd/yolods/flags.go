package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	cfgpkg "yolods/internal/config"
)

// errUsage: 命令行用法错误（退出码 2）。
var errUsage = errors.New("usage")

// optBool: 未出现时为 nil，使默认 true 的开关也能显式关闭（--prefix=false）。
type optBool struct{ v **bool }

func (o optBool) String() string {
	if o.v == nil || *o.v == nil {
		return ""
	}
	return strconv.FormatBool(**o.v)
}

func (o optBool) Set(s string) error {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*o.v = &b
	return nil
}

func (o optBool) IsBoolFlag() bool { return true }

// optInt: 允许显式 0（如 --max 0 关闭欠采样）。
type optInt struct{ v **int }

func (o optInt) String() string {
	if o.v == nil || *o.v == nil {
		return ""
	}
	return strconv.Itoa(**o.v)
}

func (o optInt) Set(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*o.v = &n
	return nil
}

type optFloat struct{ v **float64 }

func (o optFloat) String() string {
	if o.v == nil || *o.v == nil {
		return ""
	}
	return strconv.FormatFloat(**o.v, 'g', -1, 64)
}

func (o optFloat) Set(s string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return err
	}
	*o.v = &f
	return nil
}

// listFlag: 可重复、逗号分隔的列表。
type listFlag struct{ v *[]string }

func (l listFlag) String() string {
	if l.v == nil {
		return ""
	}
	return strings.Join(*l.v, ",")
}

func (l listFlag) Set(s string) error {
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			*l.v = append(*l.v, t)
		}
	}
	return nil
}

// commandFlags 为子命令声明旗标，写入 over；返回位置参数处理函数。
func commandFlags(command string, over *cfgpkg.Config, stderr io.Writer) (*flag.FlagSet, func(pos []string) error) {
	fs := flag.NewFlagSet("yolods "+command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	form := "names 形态：list|map"
	abs := "描述文件 path 写为绝对路径"
	fold := "类名匹配忽略大小写（覆盖 match.fold_case）"

	var pos func([]string) error
	switch command {
	case "classes":
		c := &over.Classes
		fs.Var(listFlag{&c.Descriptors}, "descriptor", "额外的描述文件（可重复/逗号分隔）")
		fs.StringVar(&c.Output, "output", "", "把类名并集写成 YAML 列表")
		pos = func(args []string) error {
			c.Parents = args
			return nil
		}
	case "merge":
		c := &over.Merge
		fs.StringVar(&c.Output, "output", "", "合并输出目录")
		fs.Var(listFlag{&c.Classes}, "classes", "主类别表（缺省取并集）")
		fs.Var(optBool{&c.FoldCase}, "fold-case", fold)
		fs.StringVar(&c.File, "file", "", "输出描述文件名")
		fs.StringVar(&c.NamesForm, "form", "", form)
		fs.Var(optBool{&c.Absolute}, "absolute", abs)
		fs.Var(optBool{&c.ReportUnknown}, "report-unknown", "未知类记告警")
		fs.Var(optBool{&c.Prefix}, "prefix", "输出文件名加数据集前缀")
		pos = func(args []string) error {
			c.Parents = args
			return nil
		}
	case "filter":
		c := &over.Filter
		fs.StringVar(&c.Output, "output", "", "过滤输出目录")
		fs.Var(listFlag{&c.Keep}, "keep", "保留的类名（按顺序重新编号）")
		fs.Var(optBool{&c.FoldCase}, "fold-case", fold)
		fs.StringVar(&c.File, "file", "", "输出描述文件名")
		fs.StringVar(&c.NamesForm, "form", "", form)
		fs.Var(optBool{&c.Absolute}, "absolute", abs)
		fs.Var(optBool{&c.Balance.Enabled}, "balance", "过滤后执行均衡")
		fs.StringVar(&c.Balance.Split, "split", "", "均衡的分区")
		fs.Var(optInt{&c.Balance.Min}, "min", "每类下限（0 关闭过采样）")
		fs.Var(optInt{&c.Balance.Max}, "max", "每类上限（0 关闭欠采样）")
		pos = func(args []string) error {
			return single(args, &c.Descriptor)
		}
	case "balance":
		c := &over.Balance
		fs.StringVar(&c.Descriptor, "descriptor", "", "提供类名的描述文件（相对 root）")
		fs.Var(listFlag{&c.Names}, "names", "类名列表（优先于 descriptor）")
		fs.Var(optBool{&c.FoldCase}, "fold-case", fold)
		fs.StringVar(&c.Split, "split", "", "均衡的分区")
		fs.Var(optInt{&c.Min}, "min", "每类下限（0 关闭过采样）")
		fs.Var(optInt{&c.Max}, "max", "每类上限（0 关闭欠采样）")
		pos = func(args []string) error {
			return single(args, &c.Root)
		}
	case "trim":
		c := &over.Trim
		fs.StringVar(&c.Output, "output", "", "裁剪输出目录")
		fs.IntVar(&c.Limit, "limit", 0, "每类最多保留的图片数")
		fs.StringVar(&c.SourceDescriptor, "source-descriptor", "", "源描述文件名")
		fs.StringVar(&c.File, "file", "", "输出描述文件名")
		fs.StringVar(&c.NamesForm, "form", "", form)
		fs.Var(optBool{&c.Clean}, "clean", "开始前清空输出目录")
		pos = func(args []string) error {
			return pair(args, &c.Source, &c.Output)
		}
	case "split":
		c := &over.Split
		fs.StringVar(&c.Output, "output", "", "划分输出目录")
		fs.Float64Var(&c.Train, "train", 0, "train 比例")
		fs.Var(optFloat{&c.Valid}, "valid", "valid 比例（余量归入 test）")
		fs.Var(listFlag{&c.Exts}, "exts", "参与划分的图片扩展名")
		pos = func(args []string) error {
			return pair(args, &c.Source, &c.Output)
		}
	case "count":
		c := &over.Count
		fs.StringVar(&c.Descriptor, "descriptor", "", "提供类名的描述文件（相对 root）")
		fs.StringVar(&c.Format, "format", "", "报告格式：text|json|tsv")
		pos = func(args []string) error {
			return single(args, &c.Root)
		}
	case "yaml":
		c := &over.Yaml
		fs.Var(listFlag{&c.Names}, "names", "类名列表")
		fs.Var(optBool{&c.FoldCase}, "fold-case", fold)
		fs.StringVar(&c.File, "file", "", "输出描述文件名")
		fs.StringVar(&c.NamesForm, "form", "", form)
		fs.Var(optBool{&c.Absolute}, "absolute", abs)
		pos = func(args []string) error {
			return single(args, &c.Root)
		}
	default:
		return nil, nil
	}
	return fs, pos
}

func single(args []string, dst *string) error {
	switch len(args) {
	case 0:
		return nil
	case 1:
		*dst = args[0]
		return nil
	default:
		return errors.Wrapf(errUsage, "unexpected arguments %v", args[1:])
	}
}

func pair(args []string, first, second *string) error {
	if len(args) > 2 {
		return errors.Wrapf(errUsage, "unexpected arguments %v", args[2:])
	}
	if len(args) > 1 {
		*second = args[1]
	}
	return single(args[:min(len(args), 1)], first)
}

// parseInterleaved 允许旗标与位置参数交错出现（merge a b --output out）。
// "--" 之后全部视为位置参数。
func parseInterleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var tail []string
	for i, a := range args {
		if a == "--" {
			tail = args[i+1:]
			args = args[:i]
			break
		}
	}
	var pos []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return append(pos, tail...), nil
		}
		pos = append(pos, rest[0])
		args = rest[1:]
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "用法: yolods [全局旗标] <命令> [参数] [旗标]\n\n命令:\n")
	for _, c := range cfgpkg.Commands {
		fmt.Fprintf(w, "  %-8s %s\n", c, commandHelp[c])
	}
	fmt.Fprintf(w, "\n全局旗标见 yolods -h；命令旗标见 yolods <命令> -h\n")
}

var commandHelp = map[string]string{
	"classes": "<parents...>  汇总各数据集描述文件的类名并集",
	"merge":   "<parents...> --output DIR  按主类别表重映射并合并数据集",
	"filter":  "<descriptor> --output DIR --keep a,b  只保留指定类（可选均衡）",
	"balance": "<root>  对单个分区做欠采样/过采样",
	"trim":    "<source> [output] --limit N  按每类上限裁剪数据集",
	"split":   "<source> [output]  把平铺数据集划分为 train/valid/test",
	"count":   "<root>  统计各类实例数与图片数",
	"yaml":    "<root> --names a,b  为已有目录树写出描述文件",
}
