package contract

import (
	"path"
	"strings"
)

// Split: 数据集分区名（输出目录名）。
type Split string

const (
	SplitTrain Split = "train"
	SplitValid Split = "valid"
	SplitTest  Split = "test"
)

// Splits 返回固定输出顺序：train, valid, test。
func Splits() []Split { return []Split{SplitTrain, SplitValid, SplitTest} }

// ParseSplit 解析分区名；"val" 视为 "valid"。
func ParseSplit(s string) (Split, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "train":
		return SplitTrain, true
	case "valid", "val":
		return SplitValid, true
	case "test":
		return SplitTest, true
	default:
		return "", false
	}
}

// ImageExts: 图片查找的固定优先级。
var ImageExts = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}

// IsImage 按扩展名（大小写不敏感）判定是否为 exts 中的图片。
// exts 为空时使用 ImageExts。
func IsImage(name string, exts []string) bool {
	if len(exts) == 0 {
		exts = ImageExts
	}
	ext := strings.ToLower(path.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// BaseName 去掉扩展名的文件基名。
func BaseName(name string) string {
	base := path.Base(NormalizePath(name))
	return strings.TrimSuffix(base, path.Ext(base))
}

// Annotation: 标注行。Geometry 原样透传，不解析、不重排。
type Annotation struct {
	Class    int
	Geometry []string
}

// LabelRecord: 单张图片的标注集合。
// 约束：
// - Name 为图片基名（无扩展名），同一分区内唯一；
// - Lines 保持文件内原始顺序；
// - ImagePath 为空表示未找到对应图片（下游不复制）。
type LabelRecord struct {
	Name      string
	Lines     []Annotation
	ImagePath string
	LabelPath string
}

// Classes 返回记录中出现过的类索引集合（去重）。
func (r *LabelRecord) Classes() map[int]struct{} {
	out := make(map[int]struct{}, len(r.Lines))
	for _, a := range r.Lines {
		out[a.Class] = struct{}{}
	}
	return out
}

// Clone 深拷贝记录（Geometry 切片独立）。
func (r *LabelRecord) Clone() *LabelRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Lines = make([]Annotation, len(r.Lines))
	for i, a := range r.Lines {
		g := make([]string, len(a.Geometry))
		copy(g, a.Geometry)
		out.Lines[i] = Annotation{Class: a.Class, Geometry: g}
	}
	return &out
}

// SplitPaths: 显式成对的图片/标注目录。
type SplitPaths struct {
	Split    Split
	ImageDir string
	LabelDir string
}

// Layout 返回标准布局 <root>/<split>/{images,labels}。
func Layout(root string, split Split) SplitPaths {
	return SplitPaths{
		Split:    split,
		ImageDir: path.Join(NormalizePath(root), string(split), "images"),
		LabelDir: path.Join(NormalizePath(root), string(split), "labels"),
	}
}
