package pipeline

import (
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/grailbio/base/tsv"
	"github.com/pkg/errors"

	"yolods/internal/catalog"
	"yolods/pkg/contract"
)

// 报告输出格式。
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatTSV  = "tsv"
)

// ParseFormat 校验报告格式；空串视为 text。
func ParseFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatTSV:
		return f, nil
	default:
		return "", errors.Wrapf(contract.ErrConfig, "format %q (want text|json|tsv)", s)
	}
}

// CountSettings: count 命令参数。
type CountSettings struct {
	Root string
	// Descriptor: 提供类名的描述文件（相对 Root）。
	Descriptor string
}

// SplitCount: 单个分区的计数（图片数以标注文件计）。
type SplitCount struct {
	Split     contract.Split `json:"split"`
	Images    int            `json:"images"`
	Instances int            `json:"instances"`
}

// ClassCount: 单个类的计数。
type ClassCount struct {
	ID        int                    `json:"id"`
	Name      string                 `json:"name"`
	Instances int                    `json:"instances"`
	Images    int                    `json:"images"`
	PerSplit  map[contract.Split]int `json:"per_split"`
}

// Counts: count 命令结果。Unlisted 为类别表之外的实例数。
type Counts struct {
	Splits   []SplitCount `json:"splits"`
	Classes  []ClassCount `json:"classes"`
	Unlisted int          `json:"unlisted"`
}

// Count 统计各分区图片数、各类实例数以及 分区×类 实例数。
func Count(ctx context.Context, env Env, set CountSettings) (*Summary, error) {
	sum := newSummary("count")
	file := set.Descriptor
	if !path.IsAbs(contract.NormalizePath(file)) {
		file = path.Join(contract.NormalizePath(set.Root), file)
	}
	d, err := loadDescriptor(env, file, sum.Report)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Build(d.Names, catalog.Policy{})
	if err != nil {
		return nil, errors.WithMessage(err, "count")
	}

	c := &Counts{Classes: make([]ClassCount, cat.Len())}
	for i, n := range cat.Names() {
		c.Classes[i] = ClassCount{ID: i, Name: n, PerSplit: map[contract.Split]int{}}
	}
	sc := env.scanner()
	for _, sp := range contract.Splits() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st := begin(env, "count", string(sp), 0, nil)
		// 统计不关心图片是否存在：丢弃图片匹配告警
		local := &contract.Report{}
		ix, err := sc.Scan(contract.Layout(set.Root, sp), local)
		if err != nil {
			return nil, st.fail(err)
		}
		for _, w := range local.Warnings() {
			if w.Op != "match" {
				sum.Report.Warn(w)
			}
		}
		row := SplitCount{Split: sp, Images: len(ix.Records)}
		imgs := ix.ImageCounts()
		for id, n := range ix.InstanceCounts() {
			row.Instances += n
			if !cat.Valid(id) {
				c.Unlisted += n
				continue
			}
			c.Classes[id].Instances += n
			c.Classes[id].PerSplit[sp] = n
			c.Classes[id].Images += imgs[id]
		}
		c.Splits = append(c.Splits, row)
		st.finish(int64(row.Images), fmt.Sprintf("图片 %s | 实例 %s", humanize.Comma(int64(row.Images)), humanize.Comma(int64(row.Instances))))
	}
	sum.Counts = c
	sum.Classes = cat.Names()
	return sum.done(env), nil
}

// RenderCounts 以 text/json/tsv 输出统计。
func RenderCounts(w io.Writer, c *Counts, format string) error {
	f, err := ParseFormat(format)
	if err != nil {
		return err
	}
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	case FormatTSV:
		return renderTSV(w, c)
	default:
		return renderText(w, c)
	}
}

func renderText(w io.Writer, c *Counts) error {
	rule := strings.Repeat("=", 48)
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n数据集统计\n%s\n\n各分区图片数:\n", rule, rule)
	for _, s := range c.Splits {
		if s.Images == 0 {
			continue
		}
		fmt.Fprintf(&b, "  - %-6s %s images\n", s.Split, humanize.Comma(int64(s.Images)))
	}
	b.WriteString("\n各类实例数（全部分区）:\n")
	for _, cl := range c.Classes {
		fmt.Fprintf(&b, "  - ID %2d | %-40s | %s instances\n", cl.ID, cl.Name, humanize.Comma(int64(cl.Instances)))
	}
	if c.Unlisted > 0 {
		fmt.Fprintf(&b, "\n类别表之外的实例: %s\n", humanize.Comma(int64(c.Unlisted)))
	}
	b.WriteString(rule + "\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// renderTSV 每类一行：id、name、各分区实例数、实例总数、含该类的图片数。
func renderTSV(w io.Writer, c *Counts) error {
	tw := tsv.NewWriter(w)
	tw.WriteString("id")
	tw.WriteString("name")
	for _, s := range c.Splits {
		tw.WriteString(string(s.Split))
	}
	tw.WriteString("instances")
	tw.WriteString("images")
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, cl := range c.Classes {
		tw.WriteString(strconv.Itoa(cl.ID))
		tw.WriteString(cl.Name)
		for _, s := range c.Splits {
			tw.WriteInt64(int64(cl.PerSplit[s.Split]))
		}
		tw.WriteInt64(int64(cl.Instances))
		tw.WriteInt64(int64(cl.Images))
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}
