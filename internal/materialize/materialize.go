package materialize

import (
	"path"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"yolods/internal/descriptor"
	"yolods/pkg/contract"
	wfs "yolods/plugins/writer/filesystem"
)

// Stats: 单次写出的计数。
type Stats struct {
	Labels int   `json:"labels"`
	Images int   `json:"images"`
	Bytes  int64 `json:"bytes"`
}

// Add 累加另一组计数。
func (s *Stats) Add(o Stats) {
	s.Labels += o.Labels
	s.Images += o.Images
	s.Bytes += o.Bytes
}

// Materializer 把记录写到输出布局 <root>/<split>/{images,labels}。
// 所有写入为原子替换；Workers>1 时复制在 ants 协程池中执行。
type Materializer struct {
	FS      afero.Fs
	Workers int
	// Prefix: 输出文件名前缀（合并多个数据集时使用 "<dataset>_"）。
	Prefix string
	// Progress: 每完成一项回调一次（可并发调用）；nil 忽略。
	Progress func(n int)

	w *wfs.FS
}

// New 创建 Materializer（默认原子写）。
func New(fs afero.Fs, workers int) (*Materializer, error) {
	w, err := wfs.New(fs, nil)
	if err != nil {
		return nil, err
	}
	return NewWith(w, workers), nil
}

// NewWith 使用已配置的写入器创建 Materializer。
func NewWith(w *wfs.FS, workers int) *Materializer {
	return &Materializer{FS: w.Fs(), Workers: workers, w: w}
}

// WithPrefix 返回使用指定前缀的副本。
func (m *Materializer) WithPrefix(prefix string) *Materializer {
	out := *m
	out.Prefix = prefix
	return &out
}

// Skeleton 幂等创建 <root>/{train,valid,test}/{images,labels}。
func (m *Materializer) Skeleton(root string) error {
	for _, sp := range contract.Splits() {
		l := contract.Layout(root, sp)
		for _, d := range []string{l.ImageDir, l.LabelDir} {
			if err := m.FS.MkdirAll(d, 0o755); err != nil {
				return errors.Wrapf(err, "mkdir %s", d)
			}
		}
	}
	return nil
}

// Clean 删除 root 整棵目录（不存在时忽略）。
func (m *Materializer) Clean(root string) error {
	if ok, _ := afero.Exists(m.FS, root); !ok {
		return nil
	}
	return errors.Wrapf(m.FS.RemoveAll(root), "remove %s", root)
}

type outcome struct {
	stats    Stats
	warnings []contract.Warning
}

// WriteSplit 对每条记录写出 FormatLabel 内容，并复制其图片（保留扩展名）。
// 未匹配图片的记录只写标注；复制失败记 IOWarning 并继续。
func (m *Materializer) WriteSplit(root string, split contract.Split, records map[string]*contract.LabelRecord, rep *contract.Report) Stats {
	names := make([]string, 0, len(records))
	for n := range records {
		names = append(names, n)
	}
	sort.Strings(names)
	dst := contract.Layout(root, split)

	results := make([]outcome, len(names))
	m.run(len(names), func(i int) {
		results[i] = m.writeOne(records[names[i]], dst)
	})
	return m.collect(results, rep)
}

func (m *Materializer) writeOne(r *contract.LabelRecord, dst contract.SplitPaths) outcome {
	var o outcome
	name := m.Prefix + r.Name
	lp := path.Join(dst.LabelDir, name+".txt")
	body := contract.FormatLabel(r.Lines)
	if err := m.w.WriteBytes(lp, body); err != nil {
		o.warnings = append(o.warnings, contract.Warning{Kind: contract.WarnIO, Op: "write", Split: dst.Split, Path: lp, Msg: err.Error()})
		return o
	}
	o.stats.Labels++
	o.stats.Bytes += int64(len(body))
	if r.ImagePath == "" {
		return o
	}
	ip := path.Join(dst.ImageDir, name+path.Ext(r.ImagePath))
	n, err := m.w.Copy(r.ImagePath, ip)
	if err != nil {
		o.warnings = append(o.warnings, contract.Warning{Kind: contract.WarnIO, Op: "copy", Split: dst.Split, Path: r.ImagePath, Msg: err.Error()})
		return o
	}
	o.stats.Images++
	o.stats.Bytes += n
	return o
}

// Pair: 一对待原样复制的 图片/标注。任一路径为空表示缺失。
type Pair struct {
	Name  string
	Image string
	Label string
}

// CopyPairs 把 pairs 原样复制到 dst（文件名沿用源文件基名加前缀）。
// 缺失的一侧跳过，不报错；复制失败记 IOWarning。
func (m *Materializer) CopyPairs(dst contract.SplitPaths, pairs []Pair, rep *contract.Report) Stats {
	sorted := make([]Pair, len(pairs))
	copy(sorted, pairs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	results := make([]outcome, len(sorted))
	m.run(len(sorted), func(i int) {
		results[i] = m.copyPair(sorted[i], dst)
	})
	return m.collect(results, rep)
}

// CopyPair 复制单对文件。
func (m *Materializer) CopyPair(p Pair, dst contract.SplitPaths, rep *contract.Report) Stats {
	return m.collect([]outcome{m.copyPair(p, dst)}, rep)
}

func (m *Materializer) copyPair(p Pair, dst contract.SplitPaths) outcome {
	var o outcome
	if p.Label != "" {
		to := path.Join(dst.LabelDir, m.Prefix+p.Name+".txt")
		if n, err := m.w.Copy(p.Label, to); err != nil {
			o.warnings = append(o.warnings, contract.Warning{Kind: contract.WarnIO, Op: "copy", Split: dst.Split, Path: p.Label, Msg: err.Error()})
		} else {
			o.stats.Labels++
			o.stats.Bytes += n
		}
	}
	if p.Image != "" {
		to := path.Join(dst.ImageDir, m.Prefix+p.Name+path.Ext(p.Image))
		if n, err := m.w.Copy(p.Image, to); err != nil {
			o.warnings = append(o.warnings, contract.Warning{Kind: contract.WarnIO, Op: "copy", Split: dst.Split, Path: p.Image, Msg: err.Error()})
		} else {
			o.stats.Images++
			o.stats.Bytes += n
		}
	}
	return o
}

// WriteDescriptor 写出描述文件 <root>/<file>；流水线总是在复制完成后调用。
func (m *Materializer) WriteDescriptor(root, file string, d *descriptor.Descriptor, form descriptor.NamesForm) (string, error) {
	p := path.Join(contract.NormalizePath(root), file)
	if err := descriptor.Write(m.FS, p, d, form); err != nil {
		return "", err
	}
	return p, nil
}

// run 执行 n 个任务：Workers>1 时提交到 ants 池，否则顺序执行。
// 池创建失败时退化为顺序执行。
func (m *Materializer) run(n int, fn func(i int)) {
	job := fn
	if m.Progress != nil {
		job = func(i int) {
			fn(i)
			m.Progress(1)
		}
	}
	if m.Workers <= 1 || n <= 1 {
		for i := 0; i < n; i++ {
			job(i)
		}
		return
	}
	pool, err := ants.NewPool(m.Workers, ants.WithPreAlloc(false))
	if err != nil {
		for i := 0; i < n; i++ {
			job(i)
		}
		return
	}
	defer pool.Release()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			job(i)
		}); err != nil {
			wg.Done()
			job(i)
		}
	}
	wg.Wait()
}

// collect 按任务顺序汇总，保证告警顺序与并发度无关。
func (m *Materializer) collect(results []outcome, rep *contract.Report) Stats {
	var total Stats
	for _, o := range results {
		total.Add(o.stats)
		for _, w := range o.warnings {
			rep.Warn(w)
		}
	}
	return total
}
