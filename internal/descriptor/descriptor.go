package descriptor

import (
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"yolods/pkg/contract"
	wfs "yolods/plugins/writer/filesystem"
)

// NamesForm: 输出描述文件中 names 的形态。
type NamesForm string

const (
	// FormList: names: [a, b]
	FormList NamesForm = "list"
	// FormMap: names: {0: a, 1: b}
	FormMap NamesForm = "map"
)

// ParseForm 解析 names 形态；空串视为 list。
func ParseForm(s string) (NamesForm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "list":
		return FormList, nil
	case "map":
		return FormMap, nil
	default:
		return "", errors.Wrapf(contract.ErrConfig, "names form %q (want list|map)", s)
	}
}

// Descriptor: 数据集描述文件（data.yaml）。
type Descriptor struct {
	Path  string
	Train string
	Val   string
	Test  string
	// NC: 文件中声明的 nc；未声明为 0。写出时总是取 len(Names)。
	NC    int
	Names []string
	// Form: 读入时 names 的形态；New 构造的描述为空。
	Form NamesForm
}

// NCMismatch 报告声明的 nc 是否与类名个数不一致。
func (d *Descriptor) NCMismatch() bool {
	return d.NC != 0 && d.NC != len(d.Names)
}

// Names 接受序列或以整数为键的映射两种形态。
type Names []string

// UnmarshalYAML 实现 yaml.Unmarshaler。
func (n *Names) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		out := make([]string, 0, len(value.Content))
		for _, c := range value.Content {
			if c.Kind != yaml.ScalarNode {
				return errors.Errorf("names[%d]: expect scalar at line %d", len(out), c.Line)
			}
			out = append(out, strings.TrimSpace(c.Value))
		}
		*n = out
		return nil
	case yaml.MappingNode:
		byKey := make(map[int]string, len(value.Content)/2)
		for i := 0; i+1 < len(value.Content); i += 2 {
			k, v := value.Content[i], value.Content[i+1]
			idx, err := strconv.Atoi(strings.TrimSpace(k.Value))
			if err != nil {
				return errors.Errorf("names: key %q at line %d is not an integer", k.Value, k.Line)
			}
			if _, dup := byKey[idx]; dup {
				return errors.Errorf("names: duplicate key %d at line %d", idx, k.Line)
			}
			byKey[idx] = strings.TrimSpace(v.Value)
		}
		keys := make([]int, 0, len(byKey))
		for k := range byKey {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		out := make([]string, len(keys))
		for i, k := range keys {
			if k != i {
				return errors.Errorf("names: keys must be dense 0..%d, missing %d", len(keys)-1, i)
			}
			out[i] = byKey[k]
		}
		*n = out
		return nil
	default:
		return errors.Errorf("names: unsupported node at line %d", value.Line)
	}
}

type rawFile struct {
	Path  string    `yaml:"path"`
	Train string    `yaml:"train"`
	Val   string    `yaml:"val"`
	Valid string    `yaml:"valid"`
	Test  string    `yaml:"test"`
	NC    int       `yaml:"nc"`
	Names yaml.Node `yaml:"names"`
}

// Parse 解析描述文件内容。未解析到类名时返回 ErrNoClasses（包装为配置错误）。
func Parse(b []byte) (*Descriptor, error) {
	var raw rawFile
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, errors.Wrapf(contract.ErrConfig, "parse descriptor: %v", err)
	}
	var names Names
	if raw.Names.Kind != 0 && raw.Names.Tag != "!!null" {
		if err := raw.Names.Decode(&names); err != nil {
			return nil, errors.Wrapf(contract.ErrConfig, "parse descriptor: %v", err)
		}
	}
	if len(names) == 0 {
		return nil, errors.Wrap(contract.ErrNoClasses, "descriptor: names missing or empty")
	}
	form := FormList
	if raw.Names.Kind == yaml.MappingNode {
		form = FormMap
	}
	d := &Descriptor{
		Path:  strings.TrimSpace(raw.Path),
		Train: strings.TrimSpace(raw.Train),
		Val:   strings.TrimSpace(raw.Val),
		Test:  strings.TrimSpace(raw.Test),
		NC:    raw.NC,
		Names: []string(names),
		Form:  form,
	}
	if d.Val == "" {
		d.Val = strings.TrimSpace(raw.Valid)
	}
	return d, nil
}

// Load 从 fs 读取并解析描述文件。
func Load(fs afero.Fs, file string) (*Descriptor, error) {
	b, err := afero.ReadFile(fs, file)
	if err != nil {
		return nil, errors.Wrapf(contract.ErrConfig, "read descriptor %s: %v", file, err)
	}
	d, err := Parse(b)
	if err != nil {
		return nil, errors.WithMessage(err, file)
	}
	return d, nil
}

// New 构造标准输出描述：path=root，分区为相对路径。
func New(root string, names []string) *Descriptor {
	out := make([]string, len(names))
	copy(out, names)
	return &Descriptor{
		Path:  contract.NormalizePath(root),
		Train: "train/images",
		Val:   "valid/images",
		Test:  "test/images",
		Names: out,
	}
}

// Absolute 返回把 path 绝对化后的副本（仅对 OS 路径有意义）。
func (d *Descriptor) Absolute() *Descriptor {
	out := *d
	if abs, err := filepath.Abs(filepath.FromSlash(d.Path)); err == nil {
		out.Path = filepath.ToSlash(abs)
	}
	return &out
}

// Skipped: 无法解析为目录对的分区。
type Skipped struct {
	Split  contract.Split
	Images string
	Reason string
}

// SplitPaths 解析各分区目录对。base 为描述文件所在目录。
// 相对分区路径以 path 为根（path 本身相对时以 base 为根），未设置 path 时以 base 为根。
// 标注目录按 images→labels 路径段替换推导；推导失败的分区进入 skipped。
func (d *Descriptor) SplitPaths(base string) (paths []contract.SplitPaths, skipped []Skipped) {
	root := contract.NormalizePath(base)
	if d.Path != "" {
		if isAbs(d.Path) {
			root = contract.NormalizePath(d.Path)
		} else {
			root = path.Join(root, contract.NormalizePath(d.Path))
		}
	}
	for _, e := range []struct {
		split contract.Split
		dir   string
	}{
		{contract.SplitTrain, d.Train},
		{contract.SplitValid, d.Val},
		{contract.SplitTest, d.Test},
	} {
		if e.dir == "" {
			skipped = append(skipped, Skipped{Split: e.split, Reason: "split not declared"})
			continue
		}
		img := contract.NormalizePath(e.dir)
		if !isAbs(img) {
			img = path.Join(root, img)
		}
		lbl, err := contract.LabelDirFor(img)
		if err != nil {
			skipped = append(skipped, Skipped{Split: e.split, Images: img, Reason: "cannot derive label directory"})
			continue
		}
		paths = append(paths, contract.SplitPaths{Split: e.split, ImageDir: img, LabelDir: lbl})
	}
	return paths, skipped
}

func isAbs(p string) bool {
	p = contract.NormalizePath(p)
	if strings.HasPrefix(p, "/") {
		return true
	}
	// Windows 卷名（C:/...）
	return len(p) >= 2 && p[1] == ':'
}

type listFile struct {
	Path  string   `yaml:"path,omitempty"`
	Train string   `yaml:"train,omitempty"`
	Val   string   `yaml:"val,omitempty"`
	Test  string   `yaml:"test,omitempty"`
	NC    int      `yaml:"nc"`
	Names []string `yaml:"names"`
}

type mapFile struct {
	Path  string         `yaml:"path,omitempty"`
	Train string         `yaml:"train,omitempty"`
	Val   string         `yaml:"val,omitempty"`
	Test  string         `yaml:"test,omitempty"`
	NC    int            `yaml:"nc"`
	Names map[int]string `yaml:"names"`
}

// Encode 序列化描述文件；键顺序固定为 path, train, val, test, nc, names。
func Encode(d *Descriptor, form NamesForm) ([]byte, error) {
	if len(d.Names) == 0 {
		return nil, errors.Wrap(contract.ErrNoClasses, "encode descriptor")
	}
	switch form {
	case FormMap:
		m := make(map[int]string, len(d.Names))
		for i, n := range d.Names {
			m[i] = n
		}
		return yaml.Marshal(mapFile{Path: d.Path, Train: d.Train, Val: d.Val, Test: d.Test, NC: len(d.Names), Names: m})
	case FormList, "":
		return yaml.Marshal(listFile{Path: d.Path, Train: d.Train, Val: d.Val, Test: d.Test, NC: len(d.Names), Names: d.Names})
	default:
		return nil, errors.Wrapf(contract.ErrConfig, "names form %q", form)
	}
}

// EncodeNames 将类名列表序列化为 YAML 序列（classes 命令输出）。
func EncodeNames(names []string) ([]byte, error) {
	return yaml.Marshal(struct {
		Names []string `yaml:"names"`
	}{Names: names})
}

// Write 序列化并原子写入描述文件。
func Write(fs afero.Fs, file string, d *Descriptor, form NamesForm) error {
	b, err := Encode(d, form)
	if err != nil {
		return err
	}
	w, err := wfs.New(fs, nil)
	if err != nil {
		return err
	}
	return errors.Wrapf(w.WriteBytes(file, b), "write descriptor %s", file)
}
