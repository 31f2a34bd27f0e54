package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	cfgpkg "yolods/internal/config"
	"yolods/internal/diag"
	"yolods/internal/pipeline"
	"yolods/pkg/contract"
)

// 默认配置文件名（工作目录下存在时自动读取）。
const defaultConfigFile = "yolods.json"

var commandRun = runCommand

// CLI：yolods [全局旗标] <命令> [参数] [旗标]
// 配置优先级：CLI > ENV(.env) > JSON > 默认值。
func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	start := time.Now()
	corrID := genCorrID()
	// 在任何 ENV 读取前，尝试加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")

	var (
		flagConfig   string
		flagInitDir  string
		flagStatus   bool
		flagJSON     bool
		flagSeed     uint64
		flagWorkers  int
		flagFS       string
		flagLogLevel string
		flagFoldCase *bool
	)
	gfs := flag.NewFlagSet("yolods", flag.ContinueOnError)
	gfs.SetOutput(stderr)
	gfs.Usage = func() {
		usage(stderr)
		fmt.Fprintf(stderr, "\n全局旗标:\n")
		gfs.PrintDefaults()
	}
	gfs.StringVar(&flagConfig, "config", "", "配置文件路径（JSON）；缺省读取 ./"+defaultConfigFile+"（若存在）")
	gfs.StringVar(&flagInitDir, "init-config", "", "在指定目录生成默认配置 "+defaultConfigFile+" 与 .env 模板（不覆盖）；不带值时为当前目录")
	gfs.BoolVar(&flagStatus, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	gfs.BoolVar(&flagJSON, "json", false, "以 JSON 输出运行汇总（stdout）")
	gfs.Uint64Var(&flagSeed, "seed", 0, "采样随机种子（0 表示随机取种）")
	gfs.IntVar(&flagWorkers, "workers", 0, "复制并发（覆盖配置）")
	gfs.StringVar(&flagFS, "fs", "", "文件系统：os|dryrun|mem（dryrun 不写磁盘）")
	gfs.StringVar(&flagLogLevel, "log-level", "", "日志级别：debug|info|warn|error")
	gfs.Var(optBool{&flagFoldCase}, "fold-case", "类名匹配忽略大小写（全局）")
	if err := gfs.Parse(normalizeInitArg(args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return diag.ExitOK
		}
		return diag.ExitUsage
	}

	// --init-config: 生成模板并退出
	if initDir := strings.TrimSpace(flagInitDir); initDir != "" {
		if err := initConfig(initDir, stderr); err != nil {
			fprintf(stderr, "生成默认配置失败: %v\n", err)
			return diag.ExitConfig
		}
		return diag.ExitOK
	}

	rest := gfs.Args()
	if len(rest) == 0 {
		usage(stderr)
		return diag.ExitUsage
	}
	command := rest[0]
	var overCmd cfgpkg.Config
	cfs, positional := commandFlags(command, &overCmd, stderr)
	if cfs == nil {
		fprintf(stderr, "未知命令: %s\n\n", command)
		usage(stderr)
		return diag.ExitUsage
	}
	pos, err := parseInterleaved(cfs, rest[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return diag.ExitOK
		}
		return diag.ExitUsage
	}
	if err := positional(pos); err != nil {
		fprintf(stderr, "参数错误: %v\n", err)
		return diag.ExitUsage
	}

	// 日志先以默认级别建立，配置合并后按最终级别重建
	logger := diag.NewLogger(corrID, "info")

	cfg, err := loadConfig(flagConfig)
	if err != nil {
		fprintf(stderr, "配置解析失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		_ = logger.Close()
		return diag.ExitConfig
	}

	// CLI 覆盖：全局旗标，再到命令旗标
	var overCLI cfgpkg.Config
	overCLI.Seed = flagSeed
	overCLI.Workers = flagWorkers
	overCLI.Filesystem = flagFS
	overCLI.Logging.Level = flagLogLevel
	overCLI.Match.FoldCase = flagFoldCase
	cfg = cfgpkg.Merge(cfg, overCLI)
	cfg = cfgpkg.Merge(cfg, overCmd)

	// 使用最终配置中的日志级别重建 logger
	_ = logger.Close()
	logger = diag.NewLogger(corrID, cfg.Logging.Level)
	defer logger.Close()

	env, err := cfgpkg.Assemble(cfg, command)
	if err != nil {
		fprintf(stderr, "配置校验失败: %v\n", err)
		// 提示打印有效配置，便于诊断
		_ = dumpConfig(stderr, cfg)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return diag.ExitCode(err)
	}
	env.Logger = logger

	// 预检：真实文件系统上检查输出目录的可写性
	if err := preflightCheckOutputDir(cfg, command); err != nil {
		fprintf(stderr, "输出目录不可写或无法创建: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return diag.ExitConfig
	}

	// 终端信息提示（非日志）：按 CLI 启用，默认开启
	term := diag.NewTerminal(stderr, flagStatus)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	term.RunStart(command, cfg.Workers)

	logger.Debug("config", "effective", map[string]string{
		"command":    command,
		"seed":       fmt.Sprintf("%d", env.Seed),
		"workers":    fmt.Sprintf("%d", cfg.Workers),
		"filesystem": cfg.Filesystem,
		"exts":       strings.Join(cfg.Exts, ","),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	t := logger.Start(command, "run")
	sum, err := commandRun(ctx, command, cfg, env)
	if err != nil {
		code := string(diag.Classify(err))
		logger.Error(command, code, "first error", &start)
		diag.IncOp(command, "error", "error")
		if code != string(diag.CodeUnknown) {
			diag.IncError(command, code)
		}
		if !errors.Is(err, context.Canceled) {
			fprintf(stderr, "运行失败: %v\n", err)
		}
		term.RunFinish(false, time.Since(start), "")
		return diag.ExitCode(err)
	}
	t.Finish("run", int64(sum.Written.Labels))
	diag.IncOp(command, "finish", "success")
	diag.ObserveDuration(command, "finish", time.Since(start).Milliseconds())
	sum.Metrics = diag.Snapshot()
	mkv := make(map[string]string, len(sum.Metrics))
	for _, m := range sum.Metrics {
		mkv[m.Name] = strconv.FormatInt(m.Value, 10)
	}
	logger.Debug(command, "metrics", mkv)

	if err := printSummary(stdout, stderr, command, cfg, sum, flagJSON); err != nil {
		fprintf(stderr, "输出失败: %v\n", err)
		term.RunFinish(false, time.Since(start), "")
		return diag.ExitFailure
	}
	term.RunFinish(true, time.Since(start), sum.Text())
	return diag.ExitOK
}

// loadConfig 合并默认值、JSON（文件或 YOLODS_CONFIG_JSON）与 ENV 覆盖。
func loadConfig(path string) (cfgpkg.Config, error) {
	var raw []byte
	if s := os.Getenv("YOLODS_CONFIG_JSON"); s != "" {
		raw = []byte(s)
	}
	if path == "" {
		path = os.Getenv("YOLODS_CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	cfg := cfgpkg.Defaults()
	if path != "" || len(raw) > 0 {
		base, err := cfgpkg.LoadJSON(path, raw)
		if err != nil {
			return cfg, err
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	over, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, err
	}
	return cfgpkg.Merge(cfg, over), nil
}

// runCommand 按命令分派到流水线。
func runCommand(ctx context.Context, command string, cfg cfgpkg.Config, env pipeline.Env) (*pipeline.Summary, error) {
	switch command {
	case "classes":
		return pipeline.Classes(ctx, env, cfg.ClassesSettings())
	case "merge":
		return pipeline.Merge(ctx, env, cfg.MergeSettings())
	case "filter":
		return pipeline.Filter(ctx, env, cfg.FilterSettings())
	case "balance":
		return pipeline.Balance(ctx, env, cfg.BalanceSettings())
	case "trim":
		return pipeline.Trim(ctx, env, cfg.TrimSettings())
	case "split":
		return pipeline.Split(ctx, env, cfg.SplitSettings())
	case "count":
		set, _ := cfg.CountSettings()
		return pipeline.Count(ctx, env, set)
	case "yaml":
		return pipeline.Descriptor(ctx, env, cfg.DescriptorSettings())
	default:
		return nil, errors.Wrapf(contract.ErrConfig, "unknown command %q", command)
	}
}

// 终端最多列出的告警条数；完整列表见日志。
const maxPrintedWarnings = 20

func printSummary(stdout, stderr io.Writer, command string, cfg cfgpkg.Config, sum *pipeline.Summary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}
	for i, w := range sum.Warnings {
		if i == maxPrintedWarnings {
			fprintf(stderr, "... 另有 %d 条告警（见日志）\n", len(sum.Warnings)-i)
			break
		}
		fprintf(stderr, "告警[%s/%s] %s %s\n", w.Kind, w.Op, w.Path, w.Msg)
	}
	switch command {
	case "classes":
		for _, n := range sum.Classes {
			fprintf(stdout, "%s\n", n)
		}
		return nil
	case "count":
		_, format := cfg.CountSettings()
		return pipeline.RenderCounts(stdout, sum.Counts, format)
	default:
		fprintf(stdout, "%s\n", sum.Text())
		return nil
	}
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(w io.Writer, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, _ = w.Write(append([]byte("有效配置:\n"), b...))
	_, _ = w.Write([]byte("\n"))
	return nil
}

// initConfig 在 dir 下生成 yolods.json 与 .env 模板（均不覆盖）。
func initConfig(dir string, stderr io.Writer) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeConfig(filepath.Join(dir, defaultConfigFile), cfgpkg.DefaultTemplateConfig()); err != nil {
		return err
	}
	if err := writeDotEnv(filepath.Join(dir, ".env")); err != nil {
		fprintf(stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
	}
	return nil
}

func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	}
	// 不覆盖已存在文件
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		return err
	}
	_, _ = f.Write([]byte("\n"))
	return nil
}

func genCorrID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(b[:])
}

// loadDotEnv 读取简单的 .env 文件格式并注入进程环境。
// 规则：
// - 忽略不存在的文件；跳过空行与 # 注释；支持可选前缀 "export "。
// - 仅按首个 '=' 分割；成对单/双引号去除外层引号。
// - 不覆盖已存在的环境变量（保持系统/调用者优先）。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if len(val) >= 2 {
			if (val[0] == '\'' && val[len(val)-1] == '\'') || (val[0] == '"' && val[len(val)-1] == '"') {
				val = val[1 : len(val)-1]
			}
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

// normalizeInitArg: 允许 --init-config 不带值（等价于 --init-config .）。
func normalizeInitArg(args []string) []string {
	out := make([]string, 0, len(args)+1)
	for i, a := range args {
		out = append(out, a)
		if a != "--init-config" && a != "-init-config" {
			continue
		}
		// 末尾或后继为开关/命令名时补默认值
		if i == len(args)-1 || strings.HasPrefix(args[i+1], "-") || isCommand(args[i+1]) {
			out = append(out, ".")
		}
	}
	return out
}

func isCommand(s string) bool {
	for _, c := range cfgpkg.Commands {
		if c == s {
			return true
		}
	}
	return false
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
func writeDotEnv(path string) error {
	var b strings.Builder
	b.WriteString("# yolods .env 模板（由 --init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > JSON\n")
	b.WriteString("# 空值表示未设置。\n\n")

	b.WriteString("# 配置来源（可二选一）\n")
	b.WriteString("YOLODS_CONFIG_FILE=\n")
	b.WriteString("YOLODS_CONFIG_JSON=\n\n")

	b.WriteString("# 运行参数覆盖\n")
	for _, k := range []string{"SEED", "WORKERS", "EXTS", "FILESYSTEM", "LOG_LEVEL", "FOLD_CASE"} {
		b.WriteString("YOLODS_" + k + "=\n")
	}
	b.WriteString("\n# 组件 Options（原样 JSON）\n")
	for _, k := range []string{"FILESYSTEM", "READER", "WRITER"} {
		b.WriteString("YOLODS_OPTIONS_" + k + "_JSON=\n")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}

// outputDir 返回命令会写入的目录；不写新目录的命令返回空。
func outputDir(cfg cfgpkg.Config, command string) string {
	switch command {
	case "merge":
		return cfg.Merge.Output
	case "filter":
		return cfg.Filter.Output
	case "trim":
		return cfg.Trim.Output
	case "split":
		return cfg.Split.Output
	case "classes":
		if cfg.Classes.Output != "" {
			return filepath.Dir(cfg.Classes.Output)
		}
	}
	return ""
}

// preflightCheckOutputDir: 仅在真实文件系统（os，且未设 base）上检查输出目录可写性。
// - 目录已存在：尝试创建并删除临时文件。
// - 目录不存在：向上找到最近的已存在祖先，尝试在其中创建并删除临时目录。
func preflightCheckOutputDir(cfg cfgpkg.Config, command string) error {
	if cfg.Filesystem != "" && cfg.Filesystem != "os" {
		return nil
	}
	var fsOpts struct {
		Base string `json:"base"`
	}
	if len(cfg.Options.Filesystem) > 0 {
		_ = json.Unmarshal(cfg.Options.Filesystem, &fsOpts)
	}
	if fsOpts.Base != "" {
		return nil
	}
	dir := strings.TrimSpace(outputDir(cfg, command))
	if dir == "" {
		return nil
	}
	if st, err := os.Stat(dir); err == nil && st.IsDir() {
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return nil
	} else if err == nil {
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	} else if !os.IsNotExist(err) {
		return err
	}
	parent := filepath.Dir(filepath.Clean(dir))
	for {
		st, err := os.Stat(parent)
		if err == nil {
			if !st.IsDir() {
				return fmt.Errorf("父路径不是目录: %s", parent)
			}
			break
		}
		if !os.IsNotExist(err) {
			return err
		}
		next := filepath.Dir(parent)
		if next == parent {
			return fmt.Errorf("无法确定父目录: %s", dir)
		}
		parent = next
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	_ = os.RemoveAll(tmpd)
	return nil
}
