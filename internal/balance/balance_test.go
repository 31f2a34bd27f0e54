package balance

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"reflect"
	"sort"
	"testing"

	"github.com/spf13/afero"

	"yolods/internal/catalog"
	"yolods/internal/scan"
	"yolods/pkg/contract"
)

func seeded(seed uint64) *rand.Rand { return rand.New(rand.NewPCG(seed, seed)) }

func put(t *testing.T, fs afero.Fs, p, body string) {
	t.Helper()
	if err := afero.WriteFile(fs, p, []byte(body), 0o644); err != nil {
		t.Fatalf("fixture %s: %v", p, err)
	}
}

// pair 写入 train 分区下的一对 图片/标注。
func pair(t *testing.T, fs afero.Fs, name, label string) {
	put(t, fs, "ds/train/labels/"+name+".txt", label)
	put(t, fs, "ds/train/images/"+name+".jpg", "img-"+name)
}

func cat(t *testing.T, names ...string) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Build(names, catalog.Policy{})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return c
}

func remaining(t *testing.T, fs afero.Fs) []string {
	t.Helper()
	ix, err := scan.New(fs, nil).Scan(contract.Layout("ds", contract.SplitTrain), nil)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	return ix.Names()
}

func TestUndersampleDeterministic(t *testing.T) {
	run := func() (*Result, []string, afero.Fs) {
		fs := afero.NewMemMapFs()
		for _, n := range []string{"a", "b", "c", "d", "e"} {
			pair(t, fs, n, "0 .5 .5 .1 .1")
		}
		b := New(fs, seeded(42), nil)
		res, err := b.Balance(contract.Layout("ds", contract.SplitTrain), cat(t, "x"), 0, 3, nil)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		return res, remaining(t, fs), fs
	}
	r1, left1, fs := run()
	if r1.Removed != 2 || r1.Initial[0] != 5 || r1.Final[0] != 3 {
		t.Fatalf("result: %+v", r1)
	}
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		hasLabel, _ := afero.Exists(fs, "ds/train/labels/"+n+".txt")
		hasImage, _ := afero.Exists(fs, "ds/train/images/"+n+".jpg")
		if hasLabel != hasImage {
			t.Fatalf("%s: label and image must be removed together", n)
		}
	}
	_, left2, _ := run()
	if !reflect.DeepEqual(left1, left2) {
		t.Fatalf("same seed must give same survivors: %v vs %v", left1, left2)
	}
}

// 删除同时含两类的图片后，第二类按存活成员重新计数。
func TestUndersampleCrossClass(t *testing.T) {
	fs := afero.NewMemMapFs()
	pair(t, fs, "x1", "0 1 1 1 1\n1 1 1 1 1")
	pair(t, fs, "x2", "0 1 1 1 1\n1 1 1 1 1")
	pair(t, fs, "x3", "0 1 1 1 1\n1 1 1 1 1")
	pair(t, fs, "x4", "1 1 1 1 1")
	res, err := New(fs, seeded(7), nil).Balance(contract.Layout("ds", contract.SplitTrain), cat(t, "a", "b"), 0, 2, nil)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if res.Removed != 2 {
		t.Fatalf("expect exactly 2 removals, got %d", res.Removed)
	}
	if res.AfterUndersample[1] != 2 || res.AfterUndersample[0] > 2 {
		t.Fatalf("after: %v", res.AfterUndersample)
	}
}

func TestOversample(t *testing.T) {
	fs := afero.NewMemMapFs()
	pair(t, fs, "solo", "1 .1 .2 .3 .4")
	pair(t, fs, "m1", "0 1 1 1 1")
	pair(t, fs, "m2", "0 1 1 1 1")
	pair(t, fs, "m3", "0 1 1 1 1")
	// 已存在的候选名被跳过
	put(t, fs, "ds/train/images/solo_aug_0.png", "taken")

	var rep contract.Report
	res, err := New(fs, seeded(1), nil).Balance(contract.Layout("ds", contract.SplitTrain), cat(t, "many", "few", "none"), 3, 0, &rep)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if res.Duplicated != 2 || res.Final[1] != 3 || res.Final[0] != 3 {
		t.Fatalf("result: %+v", res)
	}
	if res.Final[2] != 0 {
		t.Fatalf("empty class must stay empty")
	}
	for _, n := range []string{"solo_aug_1", "solo_aug_2"} {
		b, err := afero.ReadFile(fs, "ds/train/labels/"+n+".txt")
		if err != nil || string(b) != "1 .1 .2 .3 .4" {
			t.Fatalf("%s label: %q %v", n, b, err)
		}
		img, err := afero.ReadFile(fs, "ds/train/images/"+n+".jpg")
		if err != nil || string(img) != "img-solo" {
			t.Fatalf("%s image: %q %v", n, img, err)
		}
	}
	found := false
	for _, w := range rep.Warnings() {
		if w.Class == "none" && w.Op == "balance" {
			found = true
		}
	}
	if !found {
		t.Fatalf("empty class must be reported: %+v", rep.Warnings())
	}
}

func TestBoundsAndDisabled(t *testing.T) {
	if err := CheckBounds(10, 5); !errors.Is(err, contract.ErrConfig) {
		t.Fatalf("min>max: %v", err)
	}
	for _, tt := range [][2]int{{0, 0}, {5, 0}, {0, 5}, {5, 5}} {
		if err := CheckBounds(tt[0], tt[1]); err != nil {
			t.Fatalf("%v: %v", tt, err)
		}
	}
	fs := afero.NewMemMapFs()
	for i := 0; i < 4; i++ {
		pair(t, fs, fmt.Sprintf("p%d", i), "0 1 1 1 1")
	}
	res, err := New(fs, seeded(3), nil).Balance(contract.Layout("ds", contract.SplitTrain), cat(t, "a"), 0, 0, nil)
	if err != nil || res.Removed != 0 || res.Duplicated != 0 || res.Final[0] != 4 {
		t.Fatalf("disabled: %+v %v", res, err)
	}
	if _, err := New(fs, nil, nil).Balance(contract.Layout("ds", contract.SplitTrain), cat(t, "a"), 0, 1, nil); !errors.Is(err, contract.ErrConfig) {
		t.Fatalf("nil rand: %v", err)
	}
}

func TestDeleteFailureKeepsMembership(t *testing.T) {
	base := afero.NewMemMapFs()
	for _, n := range []string{"a", "b", "c"} {
		pair(t, base, n, "0 1 1 1 1")
	}
	ro := afero.NewReadOnlyFs(base)
	var rep contract.Report
	res, err := New(ro, seeded(5), nil).Balance(contract.Layout("ds", contract.SplitTrain), cat(t, "a"), 0, 1, &rep)
	if err != nil {
		t.Fatalf("delete failures are warnings: %v", err)
	}
	if res.Removed != 0 || res.Final[0] != 3 || rep.Count(contract.WarnIO) != 2 {
		t.Fatalf("res=%+v warnings=%+v", res, rep.Warnings())
	}
}

func TestSample(t *testing.T) {
	items := []string{"a", "b", "c", "d"}
	got := Sample(seeded(9), items, 2)
	if len(got) != 2 || got[0] == got[1] {
		t.Fatalf("sample: %v", got)
	}
	if !reflect.DeepEqual(items, []string{"a", "b", "c", "d"}) {
		t.Fatalf("input mutated")
	}
	if len(Sample(seeded(9), items, 10)) != 4 || Sample(seeded(9), items, 0) != nil {
		t.Fatalf("bounds")
	}
}

func TestTrimKeepSet(t *testing.T) {
	fs := afero.NewMemMapFs()
	for i := 0; i < 5; i++ {
		pair(t, fs, fmt.Sprintf("big%d", i), "0 1 1 1 1")
	}
	pair(t, fs, "small", "1 1 1 1 1")
	m, err := scan.New(fs, nil).ScanAll("ds", contract.Splits(), nil)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	keep := Trim(m, 2, seeded(11))
	if len(keep) != 3 {
		t.Fatalf("keep: %v", keep)
	}
	if _, ok := keep["small"]; !ok {
		t.Fatalf("class within limit must be kept whole")
	}
	names := make([]string, 0, len(keep))
	for n := range keep {
		names = append(names, n)
	}
	sort.Strings(names)
	again := Trim(m, 2, seeded(11))
	if len(again) != len(keep) {
		t.Fatalf("trim must be deterministic")
	}
	for _, n := range names {
		if _, ok := again[n]; !ok {
			t.Fatalf("trim must be deterministic: %v", names)
		}
	}
	if len(Trim(m, 0, seeded(1))) != 6 {
		t.Fatalf("limit 0 keeps all")
	}
}

func TestShuffle(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}
	got := Shuffle(seeded(3), items)
	if !reflect.DeepEqual(Shuffle(seeded(3), items), got) {
		t.Fatalf("shuffle must be deterministic for a seed")
	}
	sorted := append([]string(nil), got...)
	sort.Strings(sorted)
	if !reflect.DeepEqual(sorted, items) {
		t.Fatalf("shuffle must be a permutation: %v", got)
	}
	if !reflect.DeepEqual(items, []string{"a", "b", "c", "d", "e"}) {
		t.Fatalf("input mutated")
	}
}
