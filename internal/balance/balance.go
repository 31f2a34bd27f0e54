package balance

import (
	"fmt"
	"math/rand/v2"
	"path"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"yolods/internal/catalog"
	"yolods/internal/scan"
	"yolods/pkg/contract"
	wfs "yolods/plugins/writer/filesystem"
)

// Result: 各阶段的按类图片数（仅目录内的类索引）。
type Result struct {
	Initial          map[int]int `json:"initial"`
	AfterUndersample map[int]int `json:"after_undersample"`
	Final            map[int]int `json:"final"`
	Removed          int         `json:"removed"`
	Duplicated       int         `json:"duplicated"`
}

// Balancer 在单个分区内就地做欠采样与复制过采样。
type Balancer struct {
	FS afero.Fs
	// Rand: 采样随机源；调用方负责播种以便复现。
	Rand *rand.Rand
	// Exts: 图片扩展名优先级；为空使用 contract.ImageExts。
	Exts []string
}

// New 创建 Balancer。
func New(fs afero.Fs, rng *rand.Rand, exts []string) *Balancer {
	return &Balancer{FS: fs, Rand: rng, Exts: exts}
}

// CheckBounds 校验上下限：min<=0 关闭过采样，max<=0 关闭欠采样；min>max>0 为配置错误。
func CheckBounds(lo, hi int) error {
	if lo > 0 && hi > 0 && lo > hi {
		return errors.Wrapf(contract.ErrConfig, "balance: min %d exceeds max %d", lo, hi)
	}
	return nil
}

// Balance 依次执行：初始扫描 → 欠采样 → 重新扫描 → 过采样 → 最终扫描。
func (b *Balancer) Balance(p contract.SplitPaths, cat *catalog.Catalog, lo, hi int, rep *contract.Report) (*Result, error) {
	if err := CheckBounds(lo, hi); err != nil {
		return nil, err
	}
	if b.Rand == nil {
		return nil, errors.Wrap(contract.ErrConfig, "balance: random source required")
	}
	w, err := wfs.New(b.FS, nil)
	if err != nil {
		return nil, err
	}
	sc := scan.New(b.FS, b.Exts)

	ix, err := sc.Scan(p, rep)
	if err != nil {
		return nil, err
	}
	res := &Result{Initial: counts(ix, cat)}

	if hi > 0 {
		res.Removed = b.undersample(ix, cat, hi, rep)
	}
	// 重新扫描时的告警已在初始扫描中报告过
	if ix, err = sc.Scan(p, nil); err != nil {
		return nil, err
	}
	res.AfterUndersample = counts(ix, cat)

	if lo > 0 {
		for c := 0; c < cat.Len(); c++ {
			if res.AfterUndersample[c] == 0 {
				name, _ := cat.Name(c)
				rep.Warn(contract.Warning{Kind: contract.WarnScan, Op: "balance", Split: p.Split, Class: name, Msg: "empty class left untouched"})
			}
		}
		res.Duplicated = b.oversample(ix, sc, w, cat, lo, rep)
	}
	if ix, err = sc.Scan(p, nil); err != nil {
		return nil, err
	}
	res.Final = counts(ix, cat)
	return res, nil
}

func counts(ix *scan.Index, cat *catalog.Catalog) map[int]int {
	out := make(map[int]int, cat.Len())
	for c := 0; c < cat.Len(); c++ {
		out[c] = len(ix.PerClass[c])
	}
	return out
}

// undersample: 每类在当前存活成员上重新计数；仅在删除成功后把图片从所有类集合中移除。
func (b *Balancer) undersample(ix *scan.Index, cat *catalog.Catalog, hi int, rep *contract.Report) int {
	live := make(map[int]map[string]struct{}, cat.Len())
	for c := 0; c < cat.Len(); c++ {
		set := make(map[string]struct{}, len(ix.PerClass[c]))
		for n := range ix.PerClass[c] {
			set[n] = struct{}{}
		}
		live[c] = set
	}
	removed := 0
	for c := 0; c < cat.Len(); c++ {
		cur := len(live[c])
		if cur <= hi {
			continue
		}
		for _, n := range Sample(b.Rand, sortedKeys(live[c]), cur-hi) {
			if !b.remove(ix.Records[n], ix.Split, rep) {
				continue
			}
			removed++
			for _, set := range live {
				delete(set, n)
			}
		}
	}
	return removed
}

// remove 删除标注与图片；标注删除成功即视为成员已移除。
func (b *Balancer) remove(r *contract.LabelRecord, split contract.Split, rep *contract.Report) bool {
	if err := b.FS.Remove(r.LabelPath); err != nil {
		rep.Warn(contract.Warning{Kind: contract.WarnIO, Op: "delete", Split: split, Path: r.LabelPath, Msg: err.Error()})
		return false
	}
	if r.ImagePath != "" {
		if err := b.FS.Remove(r.ImagePath); err != nil {
			rep.Warn(contract.Warning{Kind: contract.WarnIO, Op: "delete", Split: split, Path: r.ImagePath, Msg: err.Error()})
		}
	}
	return true
}

func (b *Balancer) oversample(ix *scan.Index, sc *scan.Scanner, w *wfs.FS, cat *catalog.Catalog, lo int, rep *contract.Report) int {
	dup := 0
	next := map[string]int{}
	for c := 0; c < cat.Len(); c++ {
		cands := ix.ClassImages(c)
		cur := len(cands)
		if cur == 0 || cur >= lo {
			continue
		}
		for i := 0; i < lo-cur; i++ {
			src := ix.Records[cands[b.Rand.IntN(len(cands))]]
			name := b.freeName(sc, ix.Paths, src.Name, next)
			if b.duplicate(w, src, ix.Paths, name, rep) {
				dup++
			}
		}
	}
	return dup
}

// freeName 返回 <src>_aug_<n>，n 递增直到标注与任意扩展名的图片均不存在。
func (b *Balancer) freeName(sc *scan.Scanner, p contract.SplitPaths, src string, next map[string]int) string {
	for n := next[src]; ; n++ {
		cand := fmt.Sprintf("%s_aug_%d", src, n)
		if ok, _ := afero.Exists(b.FS, path.Join(p.LabelDir, cand+".txt")); ok {
			continue
		}
		if sc.FindImage(p.ImageDir, cand) != "" {
			continue
		}
		next[src] = n + 1
		return cand
	}
}

func (b *Balancer) duplicate(w *wfs.FS, src *contract.LabelRecord, p contract.SplitPaths, name string, rep *contract.Report) bool {
	dst := path.Join(p.LabelDir, name+".txt")
	if _, err := w.Copy(src.LabelPath, dst); err != nil {
		rep.Warn(contract.Warning{Kind: contract.WarnIO, Op: "duplicate", Split: p.Split, Path: src.LabelPath, Msg: err.Error()})
		return false
	}
	if src.ImagePath == "" {
		return true
	}
	img := path.Join(p.ImageDir, name+path.Ext(src.ImagePath))
	if _, err := w.Copy(src.ImagePath, img); err != nil {
		rep.Warn(contract.Warning{Kind: contract.WarnIO, Op: "duplicate", Split: p.Split, Path: src.ImagePath, Msg: err.Error()})
	}
	return true
}

// Trim 跨分区按类限额：超出 limit 的类随机保留 limit 张，其余类全部保留；返回保留集合的并集。
// limit<=0 表示不限额。
func Trim(m *scan.Multi, limit int, rng *rand.Rand) map[string]struct{} {
	keep := map[string]struct{}{}
	for _, c := range m.Classes() {
		imgs := m.ClassImages(c)
		if limit > 0 && len(imgs) > limit {
			imgs = Sample(rng, imgs, limit)
		}
		for _, n := range imgs {
			keep[n] = struct{}{}
		}
	}
	return keep
}

// Sample 无放回抽取 k 个元素（部分 Fisher–Yates）；不修改 items。
// k>=len(items) 时返回全部副本。
func Sample(rng *rand.Rand, items []string, k int) []string {
	out := make([]string, len(items))
	copy(out, items)
	if k >= len(out) {
		return out
	}
	if k <= 0 {
		return nil
	}
	for i := 0; i < k; i++ {
		j := i + rng.IntN(len(out)-i)
		out[i], out[j] = out[j], out[i]
	}
	return out[:k]
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Shuffle 返回 items 的随机排列副本；不修改 items。
func Shuffle(rng *rand.Rand, items []string) []string {
	out := make([]string, len(items))
	copy(out, items)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
