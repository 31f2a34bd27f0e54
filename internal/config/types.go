package config

import (
	"github.com/goccy/go-json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。
type Config struct {
	// Seed: 采样随机种子；0 表示每次运行随机取种（生效值写入日志与汇总）。
	Seed uint64 `json:"seed"`
	// Workers: 复制并发（>=1）。
	Workers int `json:"workers"`
	// Exts: 图片扩展名查找优先级。
	Exts []string `json:"exts"`
	// Filesystem: 文件系统实现名（os|dryrun|mem）。
	Filesystem string  `json:"filesystem"`
	Match      Match   `json:"match"`
	Logging    Logging `json:"logging"`

	// 组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`

	// 各命令参数。
	Classes ClassesConfig `json:"classes"`
	Merge   MergeConfig   `json:"merge"`
	Filter  FilterConfig  `json:"filter"`
	Balance BalanceConfig `json:"balance"`
	Trim    TrimConfig    `json:"trim"`
	Split   SplitConfig   `json:"split"`
	Count   CountConfig   `json:"count"`
	Yaml    YamlConfig    `json:"yaml"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Match: 类名匹配策略（命令级 fold_case 优先）。
type Match struct {
	FoldCase *bool `json:"fold_case"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Filesystem json.RawMessage `json:"filesystem"`
	Reader     json.RawMessage `json:"reader"`
	Writer     json.RawMessage `json:"writer"`
}

// ClassesConfig: classes 命令。
type ClassesConfig struct {
	Parents     []string `json:"parents"`
	Descriptors []string `json:"descriptors"`
	Output      string   `json:"output"`
}

// MergeConfig: merge 命令。
type MergeConfig struct {
	Parents       []string `json:"parents"`
	Output        string   `json:"output"`
	Classes       []string `json:"classes"`
	FoldCase      *bool    `json:"fold_case"`
	File          string   `json:"file"`
	NamesForm     string   `json:"names_form"`
	Absolute      *bool    `json:"absolute"`
	ReportUnknown *bool    `json:"report_unknown"`
	Prefix        *bool    `json:"prefix"`
}

// FilterConfig: filter 命令。
type FilterConfig struct {
	Descriptor string        `json:"descriptor"`
	Output     string        `json:"output"`
	Keep       []string      `json:"keep"`
	FoldCase   *bool         `json:"fold_case"`
	File       string        `json:"file"`
	NamesForm  string        `json:"names_form"`
	Absolute   *bool         `json:"absolute"`
	Balance    FilterBalance `json:"balance"`
}

// FilterBalance: filter 之后的可选均衡阶段。
type FilterBalance struct {
	Enabled *bool  `json:"enabled"`
	Split   string `json:"split"`
	Min     *int   `json:"min"`
	Max     *int   `json:"max"`
}

// BalanceConfig: balance 命令。min/max 为 0 分别关闭过采样/欠采样。
type BalanceConfig struct {
	Root       string   `json:"root"`
	Descriptor string   `json:"descriptor"`
	Names      []string `json:"names"`
	FoldCase   *bool    `json:"fold_case"`
	Split      string   `json:"split"`
	Min        *int     `json:"min"`
	Max        *int     `json:"max"`
}

// TrimConfig: trim 命令。
type TrimConfig struct {
	Source           string `json:"source"`
	Output           string `json:"output"`
	Limit            int    `json:"limit"`
	SourceDescriptor string `json:"source_descriptor"`
	File             string `json:"file"`
	NamesForm        string `json:"names_form"`
	Clean            *bool  `json:"clean"`
}

// SplitConfig: split 命令；test 比例为 1-train-valid。
type SplitConfig struct {
	Source string   `json:"source"`
	Output string   `json:"output"`
	Train  float64  `json:"train"`
	Valid  *float64 `json:"valid"`
	Exts   []string `json:"exts"`
}

// CountConfig: count 命令。
type CountConfig struct {
	Root       string `json:"root"`
	Descriptor string `json:"descriptor"`
	Format     string `json:"format"`
}

// YamlConfig: yaml 命令。
type YamlConfig struct {
	Root      string   `json:"root"`
	Names     []string `json:"names"`
	FoldCase  *bool    `json:"fold_case"`
	File      string   `json:"file"`
	NamesForm string   `json:"names_form"`
	Absolute  *bool    `json:"absolute"`
}
