package pipeline

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"yolods/internal/balance"
	"yolods/internal/catalog"
	"yolods/internal/descriptor"
	"yolods/internal/diag"
	"yolods/internal/materialize"
	"yolods/internal/remap"
	"yolods/internal/scan"
	"yolods/pkg/contract"
	rfs "yolods/plugins/reader/filesystem"
	wfs "yolods/plugins/writer/filesystem"
)

// - 顺序执行：每个命令是一条直线流水线；唯一的并发点是 Materializer 的复制池。
// - 配置错误（类目录为空、重名、上下限非法）在任何文件变更前返回。
// - 单文件读写失败记为告警，不中止；描述文件总是在复制之后写出。
// - 随机源由调用方播种；生效种子写入 Summary 以便复现。

// Env 聚合运行所需的外部依赖。
type Env struct {
	FS afero.Fs
	// Reader/Writer 可选；为空时按默认选项在 FS 上构造。
	Reader *rfs.FileSystem
	Writer *wfs.FS
	Rand   *rand.Rand
	Seed   uint64
	// Workers: 复制并发；<=1 顺序执行。
	Workers int
	// Exts: 图片扩展名优先级；为空使用 contract.ImageExts。
	Exts   []string
	Logger *diag.Logger
}

// NewRand 构造采样随机源。seed==0 时从 crypto/rand 取种子；返回生效种子。
func NewRand(seed uint64) (*rand.Rand, uint64) {
	if seed == 0 {
		var b [8]byte
		if _, err := crand.Read(b[:]); err == nil {
			seed = binary.LittleEndian.Uint64(b[:])
		}
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
	}
	return rand.New(rand.NewPCG(seed, seed)), seed
}

func (e Env) reader() *rfs.FileSystem {
	if e.Reader != nil {
		return e.Reader
	}
	return rfs.New(e.FS, nil)
}

func (e Env) scanner() *scan.Scanner { return scan.New(e.FS, e.Exts) }

func (e Env) writer() (*wfs.FS, error) {
	if e.Writer != nil {
		return e.Writer, nil
	}
	return wfs.New(e.FS, nil)
}

func (e Env) materializer() (*materialize.Materializer, error) {
	w, err := e.writer()
	if err != nil {
		return nil, err
	}
	m := materialize.NewWith(w, e.Workers)
	m.Progress = func(n int) { diag.GetTerminal().Advance(n) }
	return m, nil
}

// RemapStats: 重映射累计计数。
type RemapStats struct {
	Kept         int `json:"kept"`
	Dropped      int `json:"dropped"`
	LinesKept    int `json:"lines_kept"`
	LinesDropped int `json:"lines_dropped"`
}

func (s *RemapStats) add(r *remap.Result) {
	s.Kept += r.Kept
	s.Dropped += r.Dropped
	s.LinesKept += r.LinesKept
	s.LinesDropped += r.LinesDropped
}

// DatasetStats: 合并时单个源数据集按分区复制的图片数。
type DatasetStats struct {
	Name   string                 `json:"name"`
	Images map[contract.Split]int `json:"images"`
}

// Summary 是一次命令运行的结果：告警报告 + 各分区/各类计数。
type Summary struct {
	Command    string                               `json:"command"`
	Seed       uint64                               `json:"seed,omitempty"`
	Classes    []string                             `json:"classes,omitempty"`
	Datasets   []DatasetStats                       `json:"datasets,omitempty"`
	Splits     map[contract.Split]materialize.Stats `json:"splits,omitempty"`
	Written    materialize.Stats                    `json:"written"`
	Remap      *RemapStats                          `json:"remap,omitempty"`
	Balance    *balance.Result                      `json:"balance,omitempty"`
	Kept       int                                  `json:"kept,omitempty"`
	Counts     *Counts                              `json:"counts,omitempty"`
	Descriptor string                               `json:"descriptor,omitempty"`
	Warnings   []contract.Warning                   `json:"warnings"`
	Metrics    []diag.Metric                        `json:"metrics,omitempty"`

	Report *contract.Report `json:"-"`
	start  time.Time
}

func newSummary(command string) *Summary {
	return &Summary{Command: command, Report: &contract.Report{}, start: time.Now()}
}

func (s *Summary) addSplit(sp contract.Split, st materialize.Stats) {
	if s.Splits == nil {
		s.Splits = map[contract.Split]materialize.Stats{}
	}
	cur := s.Splits[sp]
	cur.Add(st)
	s.Splits[sp] = cur
	s.Written.Add(st)
}

// done 固化告警列表并把告警与结论写入日志。
func (s *Summary) done(env Env) *Summary {
	s.Warnings = s.Report.Warnings()
	for _, w := range s.Warnings {
		kv := map[string]string{"kind": string(w.Kind), "op": w.Op}
		if w.Split != "" {
			kv["split"] = string(w.Split)
		}
		if w.Path != "" {
			kv["path"] = w.Path
		}
		if w.Class != "" {
			kv["class"] = w.Class
		}
		env.Logger.Warn(s.Command, w.Msg, kv)
	}
	kv := map[string]string{"seed": strconv.FormatUint(s.Seed, 10)}
	for op, n := range s.Report.ByOp() {
		kv["warn_"+op] = strconv.Itoa(n)
	}
	env.Logger.InfoFinish(s.Command, "summary", s.start, int64(s.Written.Labels))
	env.Logger.Debug(s.Command, "warnings by op", kv)
	s.Metrics = diag.Snapshot()
	return s
}

// Text 返回一行人类可读的结论。
func (s *Summary) Text() string {
	var parts []string
	if len(s.Classes) > 0 {
		parts = append(parts, fmt.Sprintf("类别 %d", len(s.Classes)))
	}
	if s.Written.Labels > 0 || s.Written.Images > 0 {
		parts = append(parts, fmt.Sprintf("标注 %s | 图片 %s | %s",
			humanize.Comma(int64(s.Written.Labels)),
			humanize.Comma(int64(s.Written.Images)),
			humanize.Bytes(uint64(s.Written.Bytes))))
	}
	if s.Balance != nil {
		parts = append(parts, fmt.Sprintf("删除 %s | 复制 %s",
			humanize.Comma(int64(s.Balance.Removed)),
			humanize.Comma(int64(s.Balance.Duplicated))))
	}
	if s.Kept > 0 {
		parts = append(parts, "保留 "+humanize.Comma(int64(s.Kept)))
	}
	parts = append(parts, "告警 "+humanize.Comma(int64(len(s.Warnings))))
	if s.Seed != 0 {
		parts = append(parts, "seed="+strconv.FormatUint(s.Seed, 10))
	}
	return strings.Join(parts, " | ")
}

// step 串联一个阶段的日志、指标与终端提示。
type step struct {
	comp  string
	stage string
	log   *diag.Logger
	timer *diag.Timer
}

func begin(env Env, comp, stage string, total int, kv map[string]string) *step {
	s := &step{comp: comp, stage: stage, log: env.Logger}
	s.timer = env.Logger.StartWithKV(comp, stage, kv)
	diag.GetTerminal().StepStart(comp+" "+stage, total)
	return s
}

func (s *step) finish(count int64, detail string) {
	s.timer.Finish(s.stage, count)
	diag.IncOp(s.comp, s.stage, "success")
	if t0 := s.timer.Since(); t0 != nil {
		diag.ObserveDuration(s.comp, s.stage, time.Since(*t0).Milliseconds())
	}
	diag.GetTerminal().StepFinish(true, detail)
}

func (s *step) fail(err error) error {
	code := diag.Classify(err)
	s.log.ErrorWithKV(s.comp, string(code), err.Error(), s.timer.Since(), map[string]string{"stage": s.stage})
	diag.IncOp(s.comp, s.stage, "error")
	if code != diag.CodeUnknown {
		diag.IncError(s.comp, string(code))
	}
	diag.GetTerminal().StepFinish(false, err.Error())
	return err
}

// statsDetail 终端阶段结论。
func statsDetail(st materialize.Stats) string {
	return fmt.Sprintf("标注 %s 图片 %s %s",
		humanize.Comma(int64(st.Labels)), humanize.Comma(int64(st.Images)), humanize.Bytes(uint64(st.Bytes)))
}

// dedupe 按策略键去重，保留首次出现的写法。
func dedupe(names []string, p catalog.Policy) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		k := p.Key(n)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, strings.TrimSpace(n))
	}
	return out
}

// loadDescriptor 读取描述文件；声明的 nc 与类名个数不符时记告警，以 names 为准。
func loadDescriptor(env Env, file string, rep *contract.Report) (*descriptor.Descriptor, error) {
	d, err := descriptor.Load(env.FS, file)
	if err != nil {
		return nil, err
	}
	if d.NCMismatch() {
		rep.Warn(contract.Warning{Kind: contract.WarnScan, Op: "descriptor", Path: file,
			Msg: fmt.Sprintf("nc %d does not match %d names", d.NC, len(d.Names))})
	}
	return d, nil
}
