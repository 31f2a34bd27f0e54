package main

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	cfgpkg "yolods/internal/config"
	"yolods/internal/diag"
	"yolods/internal/pipeline"
	"yolods/pkg/contract"
)

// inTempDir 切换到临时目录（日志写入 ./logs），返回目录路径。
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(cwd) })
	return dir
}

func writeFile(t *testing.T, p, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
}

func runArgs(args ...string) (int, string, string) {
	var out, errb bytes.Buffer
	code := run(args, &out, &errb)
	return code, out.String(), errb.String()
}

func stubRun(t *testing.T, fn func(ctx context.Context, command string, cfg cfgpkg.Config, env pipeline.Env) (*pipeline.Summary, error)) {
	t.Helper()
	orig := commandRun
	commandRun = fn
	t.Cleanup(func() { commandRun = orig })
}

func TestRunUsage(t *testing.T) {
	inTempDir(t)
	if code, _, _ := runArgs(); code != diag.ExitUsage {
		t.Fatalf("no command: %d", code)
	}
	if code, _, errs := runArgs("frobnicate"); code != diag.ExitUsage || !strings.Contains(errs, "未知命令") {
		t.Fatalf("unknown command: %d %q", code, errs)
	}
	if code, _, _ := runArgs("count", "--bogus"); code != diag.ExitUsage {
		t.Fatalf("bad flag: %d", code)
	}
	if code, _, _ := runArgs("count", "a", "b"); code != diag.ExitUsage {
		t.Fatalf("extra positional: %d", code)
	}
	if code, _, _ := runArgs("-h"); code != diag.ExitOK {
		t.Fatalf("help: %d", code)
	}
}

func TestRunInitConfig(t *testing.T) {
	dir := inTempDir(t)
	outDir := filepath.Join(dir, "out")
	if code, _, _ := runArgs("--init-config", outDir); code != 0 {
		t.Fatalf("run return %d", code)
	}
	b, err := os.ReadFile(filepath.Join(outDir, defaultConfigFile))
	if err != nil {
		t.Fatalf("config not generated: %v", err)
	}
	if _, err := cfgpkg.LoadJSON("", b); err != nil {
		t.Fatalf("template must load strictly: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, ".env")); err != nil {
		t.Fatalf(".env not generated: %v", err)
	}
	// 裸开关：当前目录；已存在文件不覆盖（O_EXCL）
	if code, _, _ := runArgs("--init-config"); code != 0 {
		t.Fatalf("bare init: %d", code)
	}
	if code, _, _ := runArgs("--init-config"); code != diag.ExitConfig {
		t.Fatalf("existing config must not be overwritten: %d", code)
	}
}

func TestRunConfigError(t *testing.T) {
	inTempDir(t)
	stubRun(t, func(context.Context, string, cfgpkg.Config, pipeline.Env) (*pipeline.Summary, error) {
		t.Fatalf("command must not run on config error")
		return nil, nil
	})
	// merge 缺少 output
	if code, _, errs := runArgs("merge", "datasets"); code != diag.ExitConfig || !strings.Contains(errs, "配置校验失败") {
		t.Fatalf("code=%d stderr=%q", code, errs)
	}
	// 非法 JSON 配置
	t.Setenv("YOLODS_CONFIG_JSON", `{"nope":1}`)
	if code, _, _ := runArgs("count", "ds"); code != diag.ExitConfig {
		t.Fatalf("bad json: %d", code)
	}
}

func TestRunOverrides(t *testing.T) {
	dir := inTempDir(t)
	cfg := cfgpkg.Defaults()
	cfg.Workers = 2
	cfg.Count.Format = "json"
	b, _ := json.Marshal(cfg)
	path := filepath.Join(dir, "cfg.json")
	writeFile(t, path, string(b))
	t.Setenv("YOLODS_WORKERS", "5")

	var got cfgpkg.Config
	var gotEnv pipeline.Env
	stubRun(t, func(_ context.Context, command string, c cfgpkg.Config, env pipeline.Env) (*pipeline.Summary, error) {
		got, gotEnv = c, env
		return &pipeline.Summary{Command: command, Counts: &pipeline.Counts{}}, nil
	})
	code, _, _ := runArgs("--config", path, "--status=false", "--seed", "11", "--fs", "mem",
		"count", "ds", "--format", "tsv", "--descriptor", "data.yaml")
	if code != 0 {
		t.Fatalf("run return %d", code)
	}
	// CLI > ENV > JSON
	if got.Workers != 5 || got.Count.Format != "tsv" || got.Count.Root != "ds" || got.Count.Descriptor != "data.yaml" {
		t.Fatalf("overrides: %+v", got.Count)
	}
	if gotEnv.Seed != 11 || gotEnv.Logger == nil {
		t.Fatalf("env: seed=%d", gotEnv.Seed)
	}
	if code, _, _ := runArgs("--config", path, "--workers", "7", "--fs", "mem", "count", "ds"); code != 0 || got.Workers != 7 {
		t.Fatalf("cli workers: %d %d", code, got.Workers)
	}
}

func TestRunFailureExitCode(t *testing.T) {
	inTempDir(t)
	stubRun(t, func(context.Context, string, cfgpkg.Config, pipeline.Env) (*pipeline.Summary, error) {
		return nil, os.ErrPermission
	})
	if code, _, errs := runArgs("--fs", "mem", "yaml", "ds", "--names", "a"); code != diag.ExitFailure || !strings.Contains(errs, "运行失败") {
		t.Fatalf("code=%d stderr=%q", code, errs)
	}
	stubRun(t, func(context.Context, string, cfgpkg.Config, pipeline.Env) (*pipeline.Summary, error) {
		return nil, contract.ErrDuplicateClassName
	})
	if code, _, _ := runArgs("--fs", "mem", "yaml", "ds", "--names", "a"); code != diag.ExitConfig {
		t.Fatalf("duplicate class must map to config exit: %d", code)
	}
}

// 端到端：真实目录上执行 merge，再 count 输出 TSV
func TestRunMergeAndCount(t *testing.T) {
	dir := inTempDir(t)
	writeFile(t, filepath.Join(dir, "datasets/a/data.yaml"), "names: [Cat, dog]\n")
	writeFile(t, filepath.Join(dir, "datasets/a/train/images/x.jpg"), "img")
	writeFile(t, filepath.Join(dir, "datasets/a/train/labels/x.txt"), "1 0.5 0.5 0.1 0.1\n0 0.2 0.2 0.1 0.1\n")
	writeFile(t, filepath.Join(dir, "datasets/b/data.yaml"), "names: {0: cat}\n")
	writeFile(t, filepath.Join(dir, "datasets/b/valid/images/y.png"), "img")
	writeFile(t, filepath.Join(dir, "datasets/b/valid/labels/y.txt"), "0 0.5 0.5 0.1 0.1\n")

	code, out, errs := runArgs("--status=false", "merge", "datasets", "--output", "master", "--classes", "dog,cat")
	if code != 0 {
		t.Fatalf("merge: %d %s", code, errs)
	}
	if !strings.Contains(out, "标注 2") {
		t.Fatalf("summary: %q", out)
	}
	b, err := os.ReadFile(filepath.Join(dir, "master/train/labels/a_x.txt"))
	if err != nil {
		t.Fatalf("label: %v", err)
	}
	if got := strings.Fields(string(b)); got[0] != "0" || got[5] != "1" {
		t.Fatalf("remap: %q", b)
	}
	if _, err := os.Stat(filepath.Join(dir, "master/valid/images/b_y.png")); err != nil {
		t.Fatalf("image: %v", err)
	}

	code, out, errs = runArgs("--status=false", "count", "master", "--format", "tsv")
	if code != 0 {
		t.Fatalf("count: %d %s", code, errs)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "id\tname") {
		t.Fatalf("tsv: %q", out)
	}
	if lines[2] != "1\tcat\t1\t1\t0\t2\t2" {
		t.Fatalf("cat row: %q", lines[2])
	}

	code, out, _ = runArgs("--status=false", "classes", "datasets")
	if code != 0 || !reflect.DeepEqual(strings.Fields(out), []string{"Cat", "cat", "dog"}) {
		t.Fatalf("classes: %d %q", code, out)
	}
}

func TestRunDryRun(t *testing.T) {
	dir := inTempDir(t)
	writeFile(t, filepath.Join(dir, "ds/train/labels/x.txt"), "0 0.5 0.5 0.1 0.1\n")
	code, out, errs := runArgs("--status=false", "--json", "--fs", "dryrun", "yaml", "ds", "--names", "a")
	if code != 0 {
		t.Fatalf("yaml: %d %s", code, errs)
	}
	var sum pipeline.Summary
	if err := json.Unmarshal([]byte(out), &sum); err != nil || sum.Command != "yaml" {
		t.Fatalf("json summary: %v %q", err, out)
	}
	if _, err := os.Stat(filepath.Join(dir, "ds/data.yaml")); !os.IsNotExist(err) {
		t.Fatalf("dryrun must not write to disk: %v", err)
	}
	found := false
	for _, m := range sum.Metrics {
		if m.Name == "op_total{comp=yaml,stage=finish,result=success}" && m.Value >= 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("run metrics missing from summary: %+v", sum.Metrics)
	}
}

func TestNormalizeInitArg(t *testing.T) {
	cases := map[string][]string{
		"--init-config":          {"--init-config", "."},
		"--init-config --json":   {"--init-config", ".", "--json"},
		"--init-config out":      {"--init-config", "out"},
		"--init-config=out":      {"--init-config=out"},
		"--init-config merge":    {"--init-config", ".", "merge"},
		"count ds --format json": {"count", "ds", "--format", "json"},
	}
	for in, want := range cases {
		if got := normalizeInitArg(strings.Fields(in)); !reflect.DeepEqual(got, want) {
			t.Fatalf("%q: got %v", in, got)
		}
	}
}

func TestParseInterleaved(t *testing.T) {
	var over cfgpkg.Config
	fs, pos := commandFlags("merge", &over, &bytes.Buffer{})
	args, err := parseInterleaved(fs, []string{"a", "--output", "o", "b", "--prefix=false", "--", "--c"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := pos(args); err != nil {
		t.Fatalf("pos: %v", err)
	}
	if !reflect.DeepEqual(over.Merge.Parents, []string{"a", "b", "--c"}) || over.Merge.Output != "o" {
		t.Fatalf("merge: %+v", over.Merge)
	}
	if over.Merge.Prefix == nil || *over.Merge.Prefix {
		t.Fatalf("prefix must be explicit false")
	}
	if over.Merge.Absolute != nil {
		t.Fatalf("absent flag must stay nil")
	}
}

func TestOptionalFlags(t *testing.T) {
	var over cfgpkg.Config
	fs, pos := commandFlags("filter", &over, &bytes.Buffer{})
	args, err := parseInterleaved(fs, []string{"d.yaml", "--keep", "a,b", "--keep", "c", "--balance", "--max", "0"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := pos(args); err != nil {
		t.Fatalf("pos: %v", err)
	}
	f := over.Filter
	if f.Descriptor != "d.yaml" || !reflect.DeepEqual(f.Keep, []string{"a", "b", "c"}) {
		t.Fatalf("filter: %+v", f)
	}
	if f.Balance.Enabled == nil || !*f.Balance.Enabled || f.Balance.Max == nil || *f.Balance.Max != 0 || f.Balance.Min != nil {
		t.Fatalf("balance flags: %+v", f.Balance)
	}

	fs, pos = commandFlags("split", &over, &bytes.Buffer{})
	args, err = parseInterleaved(fs, []string{"src", "dst", "--valid", "0"})
	if err != nil || pos(args) != nil {
		t.Fatalf("split parse: %v", err)
	}
	if over.Split.Source != "src" || over.Split.Output != "dst" || over.Split.Valid == nil || *over.Split.Valid != 0 {
		t.Fatalf("split: %+v", over.Split)
	}
	if fs, _ := commandFlags("nope", &over, &bytes.Buffer{}); fs != nil {
		t.Fatalf("unknown command must have no flags")
	}
	if _, err := parseInterleaved(flag.NewFlagSet("x", flag.ContinueOnError), []string{"--x"}); err == nil {
		t.Fatalf("undefined flag must fail")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := inTempDir(t)
	p := filepath.Join(dir, ".env")
	writeFile(t, p, "# c\nexport YOLODS_TEST_A=\"x y\"\nYOLODS_TEST_B='z'\nbad\n")
	t.Setenv("YOLODS_TEST_B", "keep")
	os.Unsetenv("YOLODS_TEST_A")
	t.Cleanup(func() { os.Unsetenv("YOLODS_TEST_A") })
	if err := loadDotEnv(p); err != nil {
		t.Fatalf("load: %v", err)
	}
	if os.Getenv("YOLODS_TEST_A") != "x y" || os.Getenv("YOLODS_TEST_B") != "keep" {
		t.Fatalf("env: %q %q", os.Getenv("YOLODS_TEST_A"), os.Getenv("YOLODS_TEST_B"))
	}
	if err := loadDotEnv(filepath.Join(dir, "missing")); err != nil {
		t.Fatalf("missing file must be ignored: %v", err)
	}
}

func TestPreflight(t *testing.T) {
	dir := inTempDir(t)
	cfg := cfgpkg.Defaults()
	cfg.Merge.Output = filepath.Join(dir, "a/b/c")
	if err := preflightCheckOutputDir(cfg, "merge"); err != nil {
		t.Fatalf("missing nested dir must pass: %v", err)
	}
	writeFile(t, filepath.Join(dir, "file"), "x")
	cfg.Merge.Output = filepath.Join(dir, "file")
	if err := preflightCheckOutputDir(cfg, "merge"); err == nil {
		t.Fatalf("file path must fail")
	}
	cfg.Filesystem = "mem"
	if err := preflightCheckOutputDir(cfg, "merge"); err != nil {
		t.Fatalf("non-os filesystem skips: %v", err)
	}
}
