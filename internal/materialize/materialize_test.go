package materialize

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"yolods/internal/descriptor"
	"yolods/pkg/contract"
)

func put(t *testing.T, fs afero.Fs, p, body string) {
	t.Helper()
	if err := afero.WriteFile(fs, p, []byte(body), 0o644); err != nil {
		t.Fatalf("fixture %s: %v", p, err)
	}
}

func read(t *testing.T, fs afero.Fs, p string) string {
	t.Helper()
	b, err := afero.ReadFile(fs, p)
	if err != nil {
		t.Fatalf("read %s: %v", p, err)
	}
	return string(b)
}

func TestSkeletonIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	m, _ := New(fs, 1)
	for i := 0; i < 2; i++ {
		if err := m.Skeleton("out"); err != nil {
			t.Fatalf("skeleton #%d: %v", i, err)
		}
	}
	for _, sp := range contract.Splits() {
		for _, d := range []string{"images", "labels"} {
			if ok, _ := afero.DirExists(fs, "out/"+string(sp)+"/"+d); !ok {
				t.Fatalf("missing %s/%s", sp, d)
			}
		}
	}
}

func records() map[string]*contract.LabelRecord {
	return map[string]*contract.LabelRecord{
		"a": {Name: "a", ImagePath: "src/images/a.png", Lines: []contract.Annotation{{Class: 0, Geometry: []string{".5", ".5", ".1", ".1"}}, {Class: 2, Geometry: []string{"1", "2", "3", "4"}}}},
		"b": {Name: "b", ImagePath: "", Lines: []contract.Annotation{{Class: 1, Geometry: []string{"0.25", "0.25", "0.5", "0.5"}}}},
		"c": {Name: "c", ImagePath: "src/images/missing.jpg", Lines: []contract.Annotation{{Class: 0, Geometry: []string{"1", "1", "1", "1"}}}},
	}
}

func TestWriteSplit(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			fs := afero.NewMemMapFs()
			put(t, fs, "src/images/a.png", "PNGDATA")
			m, _ := New(fs, workers)
			var rep contract.Report
			st := m.WithPrefix("ds1_").WriteSplit("out", contract.SplitValid, records(), &rep)
			if st.Labels != 3 || st.Images != 1 {
				t.Fatalf("stats: %+v", st)
			}
			if got := read(t, fs, "out/valid/labels/ds1_a.txt"); got != "0 .5 .5 .1 .1\n2 1 2 3 4" {
				t.Fatalf("label a: %q", got)
			}
			if got := read(t, fs, "out/valid/labels/ds1_b.txt"); got != "1 0.25 0.25 0.5 0.5" {
				t.Fatalf("label b (geometry verbatim): %q", got)
			}
			if got := read(t, fs, "out/valid/images/ds1_a.png"); got != "PNGDATA" {
				t.Fatalf("image a: %q", got)
			}
			ws := rep.Warnings()
			if len(ws) != 1 || ws[0].Kind != contract.WarnIO || ws[0].Path != "src/images/missing.jpg" {
				t.Fatalf("warnings: %+v", ws)
			}
			if m.Prefix != "" {
				t.Fatalf("WithPrefix must not mutate receiver")
			}
		})
	}
}

func TestCopyPairs(t *testing.T) {
	fs := afero.NewMemMapFs()
	put(t, fs, "flat/images/x.jpg", "X")
	put(t, fs, "flat/labels/x.txt", "0 1 1 1 1\n")
	put(t, fs, "flat/images/y.jpeg", "Y")
	m, _ := New(fs, 3)
	var rep contract.Report
	st := m.CopyPairs(contract.Layout("out", contract.SplitTrain), []Pair{
		{Name: "y", Image: "flat/images/y.jpeg"},
		{Name: "x", Image: "flat/images/x.jpg", Label: "flat/labels/x.txt"},
		{Name: "z", Image: "flat/images/z.jpg"},
	}, &rep)
	if st.Images != 2 || st.Labels != 1 {
		t.Fatalf("stats: %+v", st)
	}
	// 原样复制，包括尾随换行
	if got := read(t, fs, "out/train/labels/x.txt"); got != "0 1 1 1 1\n" {
		t.Fatalf("label copy: %q", got)
	}
	if got := read(t, fs, "out/train/images/y.jpeg"); got != "Y" {
		t.Fatalf("image copy: %q", got)
	}
	if rep.Count(contract.WarnIO) != 1 {
		t.Fatalf("warnings: %+v", rep.Warnings())
	}
	st = m.CopyPair(Pair{Name: "x", Label: "flat/labels/x.txt"}, contract.Layout("out", contract.SplitTest), nil)
	if st.Labels != 1 || st.Bytes != int64(len("0 1 1 1 1\n")) {
		t.Fatalf("single pair: %+v", st)
	}
}

func TestWriteDescriptorAndClean(t *testing.T) {
	fs := afero.NewMemMapFs()
	m, _ := New(fs, 1)
	p, err := m.WriteDescriptor("out", "data.yaml", descriptor.New("out", []string{"dog"}), descriptor.FormList)
	if err != nil || p != "out/data.yaml" {
		t.Fatalf("descriptor: %q %v", p, err)
	}
	d, err := descriptor.Load(fs, p)
	if err != nil || !reflect.DeepEqual(d.Names, []string{"dog"}) {
		t.Fatalf("load: %+v %v", d, err)
	}
	if !strings.Contains(read(t, fs, p), "nc: 1") {
		t.Fatalf("nc missing")
	}
	if err := m.Clean("out"); err != nil {
		t.Fatalf("clean: %v", err)
	}
	if ok, _ := afero.Exists(fs, "out"); ok {
		t.Fatalf("out must be removed")
	}
	if err := m.Clean("never"); err != nil {
		t.Fatalf("clean missing: %v", err)
	}
}

func TestWriteSplitReadOnly(t *testing.T) {
	m, _ := New(afero.NewReadOnlyFs(afero.NewMemMapFs()), 2)
	var rep contract.Report
	st := m.WriteSplit("out", contract.SplitTrain, records(), &rep)
	if st.Labels != 0 || rep.Count(contract.WarnIO) != 3 {
		t.Fatalf("stats=%+v warnings=%+v", st, rep.Warnings())
	}
	// 告警按记录名排序，与并发度无关
	ws := rep.Warnings()
	if !strings.HasSuffix(ws[0].Path, "a.txt") || !strings.HasSuffix(ws[2].Path, "c.txt") {
		t.Fatalf("order: %+v", ws)
	}
}
