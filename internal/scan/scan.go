package scan

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"yolods/pkg/contract"
)

// Index: 单个分区的扫描结果。
// - Records: 图片基名 → 标注记录（包括未匹配到图片的记录）；
// - PerClass: 类索引 → 含该类至少一条标注的图片基名集合。
type Index struct {
	Split    contract.Split
	Paths    contract.SplitPaths
	Records  map[string]*contract.LabelRecord
	PerClass map[int]map[string]struct{}
}

func newIndex(p contract.SplitPaths) *Index {
	return &Index{
		Split:    p.Split,
		Paths:    p,
		Records:  make(map[string]*contract.LabelRecord),
		PerClass: make(map[int]map[string]struct{}),
	}
}

// Add 加入一条记录并更新按类成员索引。
func (ix *Index) Add(r *contract.LabelRecord) {
	ix.Records[r.Name] = r
	for c := range r.Classes() {
		set, ok := ix.PerClass[c]
		if !ok {
			set = make(map[string]struct{})
			ix.PerClass[c] = set
		}
		set[r.Name] = struct{}{}
	}
}

// Names 返回记录基名（升序）。
func (ix *Index) Names() []string {
	out := make([]string, 0, len(ix.Records))
	for n := range ix.Records {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ClassImages 返回含类 c 的图片基名（升序，便于在固定种子下可复现地采样）。
func (ix *Index) ClassImages(c int) []string {
	set := ix.PerClass[c]
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ImageCounts 返回每类的图片数。
func (ix *Index) ImageCounts() map[int]int {
	out := make(map[int]int, len(ix.PerClass))
	for c, set := range ix.PerClass {
		out[c] = len(set)
	}
	return out
}

// InstanceCounts 返回每类的标注实例数（行数）。
func (ix *Index) InstanceCounts() map[int]int {
	out := map[int]int{}
	for _, r := range ix.Records {
		for _, a := range r.Lines {
			out[a.Class]++
		}
	}
	return out
}

// Scanner 扫描分区目录；所有访问经由 afero.Fs。
type Scanner struct {
	FS afero.Fs
	// Exts: 图片扩展名优先级；为空使用 contract.ImageExts。
	Exts []string
}

// New 创建 Scanner。
func New(fs afero.Fs, exts []string) *Scanner {
	return &Scanner{FS: fs, Exts: exts}
}

func (s *Scanner) exts() []string {
	if len(s.Exts) == 0 {
		return contract.ImageExts
	}
	return s.Exts
}

// Scan 读取 p.LabelDir 下全部 *.txt（非递归，按名称排序），解析标注并匹配图片。
// 缺失标注目录、未匹配图片、非法行均记入 rep（ScanWarning），不视为错误。
// 仅当读取单个标注文件失败时记 IOWarning 并跳过该文件。
func (s *Scanner) Scan(p contract.SplitPaths, rep *contract.Report) (*Index, error) {
	ix := newIndex(p)
	ok, err := afero.DirExists(s.FS, p.LabelDir)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", p.LabelDir)
	}
	if !ok {
		rep.Warn(contract.Warning{Kind: contract.WarnScan, Op: "scan", Split: p.Split, Path: p.LabelDir, Msg: "label directory not found, split skipped"})
		return ix, nil
	}
	imgOK, _ := afero.DirExists(s.FS, p.ImageDir)
	if !imgOK {
		rep.Warn(contract.Warning{Kind: contract.WarnScan, Op: "scan", Split: p.Split, Path: p.ImageDir, Msg: "image directory not found"})
	}
	entries, err := afero.ReadDir(s.FS, p.LabelDir)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", p.LabelDir)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(path.Ext(e.Name()), ".txt") {
			continue
		}
		lp := path.Join(p.LabelDir, e.Name())
		rec, err := s.readRecord(lp, p.Split, rep)
		if err != nil {
			rep.Warn(contract.Warning{Kind: contract.WarnIO, Op: "read", Split: p.Split, Path: lp, Msg: err.Error()})
			continue
		}
		if imgOK {
			rec.ImagePath = s.FindImage(p.ImageDir, rec.Name)
		}
		if rec.ImagePath == "" {
			rep.Warn(contract.Warning{Kind: contract.WarnScan, Op: "match", Split: p.Split, Path: lp, Msg: "no image found for label"})
		}
		ix.Add(rec)
	}
	return ix, nil
}

func (s *Scanner) readRecord(lp string, split contract.Split, rep *contract.Report) (*contract.LabelRecord, error) {
	f, err := s.FS.Open(lp)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	lines, issues, err := contract.ParseLabel(f)
	if err != nil {
		return nil, err
	}
	for _, is := range issues {
		rep.Warn(contract.Warning{Kind: contract.WarnScan, Op: "parse", Split: split, Path: lp, Msg: fmt.Sprintf("line %d skipped: %s", is.Line, is.Reason)})
	}
	return &contract.LabelRecord{Name: contract.BaseName(lp), Lines: lines, LabelPath: lp}, nil
}

// FindImage 按扩展名优先级查找 dir/<name><ext>；未找到返回空串。
func (s *Scanner) FindImage(dir, name string) string {
	for _, ext := range s.exts() {
		p := path.Join(dir, name+ext)
		if st, err := s.FS.Stat(p); err == nil && st.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

// ScanAll 扫描标准布局 <root>/<split>/{images,labels} 的给定分区。
func (s *Scanner) ScanAll(root string, splits []contract.Split, rep *contract.Report) (*Multi, error) {
	m := &Multi{Splits: map[contract.Split]*Index{}, Membership: map[string]contract.Split{}}
	for _, sp := range splits {
		ix, err := s.Scan(contract.Layout(root, sp), rep)
		if err != nil {
			return nil, err
		}
		m.add(ix, rep)
	}
	return m, nil
}

// ScanPaths 扫描显式给定的目录对。
func (s *Scanner) ScanPaths(paths []contract.SplitPaths, rep *contract.Report) (*Multi, error) {
	m := &Multi{Splits: map[contract.Split]*Index{}, Membership: map[string]contract.Split{}}
	for _, p := range paths {
		ix, err := s.Scan(p, rep)
		if err != nil {
			return nil, err
		}
		m.add(ix, rep)
	}
	return m, nil
}

// Multi: 跨分区扫描结果。Membership 为 图片基名 → 所属分区。
type Multi struct {
	Order      []contract.Split
	Splits     map[contract.Split]*Index
	Membership map[string]contract.Split
}

func (m *Multi) add(ix *Index, rep *contract.Report) {
	m.Order = append(m.Order, ix.Split)
	m.Splits[ix.Split] = ix
	for _, n := range ix.Names() {
		if prev, dup := m.Membership[n]; dup {
			rep.Warn(contract.Warning{Kind: contract.WarnScan, Op: "scan", Split: ix.Split, Path: n, Msg: fmt.Sprintf("name also present in split %s; first occurrence wins", prev)})
			continue
		}
		m.Membership[n] = ix.Split
	}
}

// Record 按基名跨分区查找记录。
func (m *Multi) Record(name string) (*contract.LabelRecord, contract.Split, bool) {
	sp, ok := m.Membership[name]
	if !ok {
		return nil, "", false
	}
	r, ok := m.Splits[sp].Records[name]
	return r, sp, ok
}

// ClassImages 返回跨分区含类 c 的图片基名（升序，仅计入 Membership 中的首个归属，且需有图片）。
func (m *Multi) ClassImages(c int) []string {
	var out []string
	for _, sp := range m.Order {
		ix := m.Splits[sp]
		for n := range ix.PerClass[c] {
			if m.Membership[n] != sp || ix.Records[n].ImagePath == "" {
				continue
			}
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Classes 返回出现过的类索引（升序）。
func (m *Multi) Classes() []int {
	seen := map[int]struct{}{}
	for _, ix := range m.Splits {
		for c := range ix.PerClass {
			seen[c] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}
