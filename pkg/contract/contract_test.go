package contract

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

// TestNormalizePath 验证路径规范化逻辑。
func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Windows路径", "C:\\Users\\test\\file.txt", "C:/Users/test/file.txt"},
		{"相对路径反斜杠", "data\\train\\images", "data/train/images"},
		{"清理多余斜杠", "path//to///file.txt", "path/to/file.txt"},
		{"清理当前目录", "path/./to/./file.txt", "path/to/file.txt"},
		{"处理父目录", "path/to/../from/file.txt", "path/from/file.txt"},
		{"单个点", ".", "."},
		{"空串", "", "."},
		{"根路径", "/", "/"},
		{"混合分隔符", "C:\\Users/test\\Documents/file.txt", "C:/Users/test/Documents/file.txt"},
		{"空格路径", "My Documents\\My File.txt", "My Documents/My File.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePath(tt.input); got != tt.expected {
				t.Errorf("NormalizePath(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLabelDirFor(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{"data/train/images", "data/train/labels", false},
		{"C:\\ds\\valid\\images", "C:/ds/valid/labels", false},
		{"/abs/images/train/images", "/abs/images/train/labels", false},
		{"ds/my_images/train", "", true},
		{"ds/train", "", true},
	}
	for _, tt := range tests {
		got, err := LabelDirFor(tt.in)
		if tt.err {
			if !errors.Is(err, ErrPathInvalid) {
				t.Fatalf("%q: expect ErrPathInvalid, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("%q: got %q err=%v, want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestParseSplit(t *testing.T) {
	cases := map[string]Split{"train": SplitTrain, "val": SplitValid, "valid": SplitValid, " Test ": SplitTest}
	for in, want := range cases {
		got, ok := ParseSplit(in)
		if !ok || got != want {
			t.Fatalf("ParseSplit(%q) = %q %v", in, got, ok)
		}
	}
	if _, ok := ParseSplit("holdout"); ok {
		t.Fatalf("unknown split should fail")
	}
}

func TestParseLabel(t *testing.T) {
	in := "0 .1 .1 .2 .2\n\n  \nx 1 2 3 4\n3 0.5 0.5 0.1 0.1\n"
	lines, issues, err := ParseLabel(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expect 2 lines, got %d", len(lines))
	}
	if lines[1].Class != 3 || strings.Join(lines[1].Geometry, " ") != "0.5 0.5 0.1 0.1" {
		t.Fatalf("unexpected line: %+v", lines[1])
	}
	if len(issues) != 1 || issues[0].Line != 4 {
		t.Fatalf("expect one issue on line 4, got %+v", issues)
	}
}

// 几何字段原样透传：不做浮点格式化。
func TestFormatLabelVerbatim(t *testing.T) {
	lines := []Annotation{
		{Class: 0, Geometry: []string{".3", ".30", "1e-1", "0.1"}},
		{Class: 12, Geometry: []string{"0.5", "0.5", "0.2", "0.2", "0.7", "0.7"}},
	}
	got := string(FormatLabel(lines))
	want := "0 .3 .30 1e-1 0.1\n12 0.5 0.5 0.2 0.2 0.7 0.7"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if string(FormatLabel(nil)) != "" {
		t.Fatalf("empty record should format to empty output")
	}
}

func TestRecordCloneAndClasses(t *testing.T) {
	r := &LabelRecord{Name: "a", Lines: []Annotation{{Class: 1, Geometry: []string{"x"}}, {Class: 1}, {Class: 2}}}
	c := r.Clone()
	c.Lines[0].Geometry[0] = "y"
	if r.Lines[0].Geometry[0] != "x" {
		t.Fatalf("clone must not share geometry")
	}
	if got := r.Classes(); len(got) != 2 {
		t.Fatalf("classes: %v", got)
	}
}

func TestImageHelpers(t *testing.T) {
	if !IsImage("A.JPG", nil) || IsImage("a.txt", nil) {
		t.Fatalf("IsImage mismatch")
	}
	if IsImage("a.webp", []string{".jpg"}) {
		t.Fatalf("custom ext list ignored")
	}
	if BaseName("dir\\sub\\img.01.png") != "img.01" {
		t.Fatalf("BaseName: %q", BaseName("dir\\sub\\img.01.png"))
	}
	sp := Layout("out", SplitValid)
	if sp.ImageDir != "out/valid/images" || sp.LabelDir != "out/valid/labels" {
		t.Fatalf("layout: %+v", sp)
	}
}

func TestReportConcurrent(t *testing.T) {
	var r Report
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kind := WarnScan
			if i%2 == 0 {
				kind = WarnIO
			}
			r.Warn(Warning{Kind: kind, Op: "copy", Path: "a\\b", Msg: "x"})
		}(i)
	}
	wg.Wait()
	if r.Count("") != 50 || r.Count(WarnIO) != 25 {
		t.Fatalf("counts: total=%d io=%d", r.Count(""), r.Count(WarnIO))
	}
	if r.Warnings()[0].Path != "a/b" {
		t.Fatalf("path should be normalized")
	}
	if r.ByOp()["copy"] != 50 {
		t.Fatalf("ByOp: %v", r.ByOp())
	}
	var nilRep *Report
	nilRep.Warn(Warning{})
	if nilRep.Count("") != 0 {
		t.Fatalf("nil report should be a no-op")
	}
}

func TestReportMerge(t *testing.T) {
	var a, b Report
	a.Warn(Warning{Kind: WarnScan, Op: "scan", Split: SplitValid, Msg: "x"})
	b.Warn(Warning{Kind: WarnIO, Op: "copy", Split: SplitTrain, Msg: "y"})
	a.Merge(&b)
	a.Merge(&a)
	a.Merge(nil)
	if a.Count("") != 2 || a.Count(WarnIO) != 1 {
		t.Fatalf("merge counts: %d", a.Count(""))
	}
	a.SortStable()
	if a.Warnings()[0].Split != SplitTrain {
		t.Fatalf("sort: %+v", a.Warnings())
	}
}
