package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"yolods/pkg/contract"
)

func boolPtr(b bool) *bool        { return &b }
func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }

// Defaults 返回带有安全默认值的 Config 雏形。
// 路径类参数（数据集、输出目录）不设默认，必须由 JSON/ENV/CLI 提供。
func Defaults() Config {
	return Config{
		Workers:    1,
		Exts:       cloneStrings(contract.ImageExts),
		Filesystem: "os",
		Logging:    Logging{Level: "info"},
		Merge: MergeConfig{
			File:          "master.yaml",
			NamesForm:     "map",
			Absolute:      boolPtr(true),
			ReportUnknown: boolPtr(true),
			Prefix:        boolPtr(true),
		},
		Filter: FilterConfig{
			File:      "data.yaml",
			NamesForm: "list",
			Absolute:  boolPtr(true),
			Balance: FilterBalance{
				Enabled: boolPtr(false),
				Split:   "train",
				Min:     intPtr(400),
				Max:     intPtr(5000),
			},
		},
		Balance: BalanceConfig{
			Descriptor: "data.yaml",
			Split:      "train",
			Min:        intPtr(400),
			Max:        intPtr(5000),
		},
		Trim: TrimConfig{
			Limit:            9000,
			SourceDescriptor: "master.yaml",
			File:             "dataset.yaml",
			Clean:            boolPtr(true),
		},
		Split: SplitConfig{
			Train: 0.7,
			Valid: floatPtr(0.15),
			Exts:  []string{".jpg", ".jpeg", ".png"},
		},
		Count: CountConfig{
			Descriptor: "master.yaml",
			Format:     "text",
		},
		Yaml: YamlConfig{
			File:      "data.yaml",
			NamesForm: "list",
			Absolute:  boolPtr(true),
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, errors.Wrapf(contract.ErrConfig, "open config: %v", err)
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.Wrap(contract.ErrConfig, "no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, errors.Wrapf(contract.ErrConfig, "decode config: %v", err)
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 标量/字符串/列表/原样 JSON 为“替换”；空值与 nil 指针视为未覆盖。
func Merge(base, over Config) Config {
	out := base
	// 顶层
	if over.Seed != 0 {
		out.Seed = over.Seed
	}
	if over.Workers != 0 {
		out.Workers = over.Workers
	}
	setStrs(&out.Exts, over.Exts)
	setStr(&out.Filesystem, over.Filesystem)
	setBool(&out.Match.FoldCase, over.Match.FoldCase)
	setStr(&out.Logging.Level, over.Logging.Level)

	// Options（完整替换对应键）
	if len(over.Options.Filesystem) > 0 {
		out.Options.Filesystem = cloneRaw(over.Options.Filesystem)
	}
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}

	// classes
	setStrs(&out.Classes.Parents, over.Classes.Parents)
	setStrs(&out.Classes.Descriptors, over.Classes.Descriptors)
	setStr(&out.Classes.Output, over.Classes.Output)

	// merge
	setStrs(&out.Merge.Parents, over.Merge.Parents)
	setStr(&out.Merge.Output, over.Merge.Output)
	setStrs(&out.Merge.Classes, over.Merge.Classes)
	setBool(&out.Merge.FoldCase, over.Merge.FoldCase)
	setStr(&out.Merge.File, over.Merge.File)
	setStr(&out.Merge.NamesForm, over.Merge.NamesForm)
	setBool(&out.Merge.Absolute, over.Merge.Absolute)
	setBool(&out.Merge.ReportUnknown, over.Merge.ReportUnknown)
	setBool(&out.Merge.Prefix, over.Merge.Prefix)

	// filter
	setStr(&out.Filter.Descriptor, over.Filter.Descriptor)
	setStr(&out.Filter.Output, over.Filter.Output)
	setStrs(&out.Filter.Keep, over.Filter.Keep)
	setBool(&out.Filter.FoldCase, over.Filter.FoldCase)
	setStr(&out.Filter.File, over.Filter.File)
	setStr(&out.Filter.NamesForm, over.Filter.NamesForm)
	setBool(&out.Filter.Absolute, over.Filter.Absolute)
	setBool(&out.Filter.Balance.Enabled, over.Filter.Balance.Enabled)
	setStr(&out.Filter.Balance.Split, over.Filter.Balance.Split)
	setInt(&out.Filter.Balance.Min, over.Filter.Balance.Min)
	setInt(&out.Filter.Balance.Max, over.Filter.Balance.Max)

	// balance
	setStr(&out.Balance.Root, over.Balance.Root)
	setStr(&out.Balance.Descriptor, over.Balance.Descriptor)
	setStrs(&out.Balance.Names, over.Balance.Names)
	setBool(&out.Balance.FoldCase, over.Balance.FoldCase)
	setStr(&out.Balance.Split, over.Balance.Split)
	setInt(&out.Balance.Min, over.Balance.Min)
	setInt(&out.Balance.Max, over.Balance.Max)

	// trim
	setStr(&out.Trim.Source, over.Trim.Source)
	setStr(&out.Trim.Output, over.Trim.Output)
	if over.Trim.Limit != 0 {
		out.Trim.Limit = over.Trim.Limit
	}
	setStr(&out.Trim.SourceDescriptor, over.Trim.SourceDescriptor)
	setStr(&out.Trim.File, over.Trim.File)
	setStr(&out.Trim.NamesForm, over.Trim.NamesForm)
	setBool(&out.Trim.Clean, over.Trim.Clean)

	// split
	setStr(&out.Split.Source, over.Split.Source)
	setStr(&out.Split.Output, over.Split.Output)
	if over.Split.Train != 0 {
		out.Split.Train = over.Split.Train
	}
	if over.Split.Valid != nil {
		out.Split.Valid = floatPtr(*over.Split.Valid)
	}
	setStrs(&out.Split.Exts, over.Split.Exts)

	// count
	setStr(&out.Count.Root, over.Count.Root)
	setStr(&out.Count.Descriptor, over.Count.Descriptor)
	setStr(&out.Count.Format, over.Count.Format)

	// yaml
	setStr(&out.Yaml.Root, over.Yaml.Root)
	setStrs(&out.Yaml.Names, over.Yaml.Names)
	setBool(&out.Yaml.FoldCase, over.Yaml.FoldCase)
	setStr(&out.Yaml.File, over.Yaml.File)
	setStr(&out.Yaml.NamesForm, over.Yaml.NamesForm)
	setBool(&out.Yaml.Absolute, over.Yaml.Absolute)
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 YOLODS_；集合之外的键忽略；无法解析的数值返回配置错误。
// 支持：SEED, WORKERS, EXTS, FILESYSTEM, LOG_LEVEL, FOLD_CASE,
// 以及 OPTIONS_{FILESYSTEM,READER,WRITER}_JSON（原样 JSON）。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, "YOLODS_") {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len("YOLODS_") {
			continue
		}
		key := strings.TrimPrefix(kv[:eq], "YOLODS_")
		val := strings.TrimSpace(kv[eq+1:])
		if val == "" {
			// 空值视为未设置，避免清空 config.json
			continue
		}
		switch key {
		case "SEED":
			v, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return over, errors.Wrapf(contract.ErrConfig, "YOLODS_SEED: %v", err)
			}
			over.Seed = v
		case "WORKERS":
			v, err := atoi(val)
			if err != nil {
				return over, errors.Wrapf(contract.ErrConfig, "YOLODS_WORKERS: %v", err)
			}
			over.Workers = v
		case "EXTS":
			over.Exts = splitComma(val)
		case "FILESYSTEM":
			over.Filesystem = val
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "FOLD_CASE":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return over, errors.Wrapf(contract.ErrConfig, "YOLODS_FOLD_CASE: %v", err)
			}
			over.Match.FoldCase = &b
		case "OPTIONS_FILESYSTEM_JSON":
			over.Options.Filesystem = json.RawMessage(val)
		case "OPTIONS_READER_JSON":
			over.Options.Reader = json.RawMessage(val)
		case "OPTIONS_WRITER_JSON":
			over.Options.Writer = json.RawMessage(val)
		default:
			// CONFIG_FILE / CONFIG_JSON 由入口处理；其余键忽略。
		}
	}
	return over, nil
}

func setStr(dst *string, v string) {
	if t := strings.TrimSpace(v); t != "" {
		*dst = t
	}
}

func setStrs(dst *[]string, v []string) {
	if len(v) > 0 {
		*dst = cloneStrings(v)
	}
}

func setBool(dst **bool, v *bool) {
	if v != nil {
		*dst = boolPtr(*v)
	}
}

func setInt(dst **int, v *int) {
	if v != nil {
		*dst = intPtr(*v)
	}
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
