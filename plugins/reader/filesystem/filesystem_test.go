package filesystem

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/spf13/afero"

	"yolods/pkg/contract"
)

func touch(t *testing.T, fs afero.Fs, p string) {
	t.Helper()
	if err := afero.WriteFile(fs, p, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
}

func collect(t *testing.T, r *FileSystem, parents ...string) []Dataset {
	t.Helper()
	var out []Dataset
	err := r.Datasets(context.Background(), parents, func(ds Dataset) error {
		out = append(out, ds)
		return nil
	})
	if err != nil {
		t.Fatalf("datasets: %v", err)
	}
	return out
}

// TestDatasetsChildren 子目录按字典序发现，缺少描述文件的目录 Descriptor 为空
func TestDatasetsChildren(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs, "/p/b/data.yaml")
	touch(t, fs, "/p/a/data.yaml")
	_ = fs.MkdirAll("/p/c/train", 0o755)
	touch(t, fs, "/p/readme.txt")

	got := collect(t, New(fs, nil), "/p")
	want := []Dataset{
		{Name: "a", Root: "/p/a", Descriptor: "/p/a/data.yaml"},
		{Name: "b", Root: "/p/b", Descriptor: "/p/b/data.yaml"},
		{Name: "c", Root: "/p/c"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v", got)
	}
}

// TestDatasetsSelf parent 自身含描述文件时视为单个数据集
func TestDatasetsSelf(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs, "/ds/master.yaml")
	touch(t, fs, "/ds/train/labels/a.txt")

	got := collect(t, New(fs, &Options{Descriptor: "master.yaml"}), "/ds")
	if len(got) != 1 || got[0].Name != "ds" || got[0].Descriptor != "/ds/master.yaml" {
		t.Fatalf("got %#v", got)
	}
}

// TestExcludeDir 跳过目录（大小写不敏感）
func TestExcludeDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs, "/p/keep/data.yaml")
	touch(t, fs, "/p/Skip/data.yaml")

	got := collect(t, New(fs, &Options{ExcludeDirNames: []string{"skip", ""}}), "/p")
	if len(got) != 1 || got[0].Name != "keep" {
		t.Fatalf("exclude failed: %#v", got)
	}
}

// TestDatasetsErrors 缺失或非目录的 parent
func TestDatasetsErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs, "/file")
	r := New(fs, nil)
	noop := func(Dataset) error { return nil }
	if err := r.Datasets(context.Background(), []string{"/missing"}, noop); err == nil {
		t.Fatalf("expected stat error")
	}
	err := r.Datasets(context.Background(), []string{"/file"}, noop)
	if !errors.Is(err, contract.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

// TestDatasetsYieldError yield 错误原样返回
func TestDatasetsYieldError(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs, "/p/a/data.yaml")
	touch(t, fs, "/p/b/data.yaml")
	stop := errors.New("stop")
	n := 0
	err := New(fs, nil).Datasets(context.Background(), []string{"/p"}, func(Dataset) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) || n != 1 {
		t.Fatalf("err=%v n=%d", err, n)
	}
}

// TestDatasetsCanceled 已取消的 ctx 直接返回
func TestDatasetsCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(afero.NewMemMapFs(), nil).Datasets(ctx, []string{"/p"}, func(Dataset) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

// TestFiles 只列出匹配扩展名的文件，排序输出
func TestFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs, "/src/images/b.PNG")
	touch(t, fs, "/src/images/a.jpg")
	touch(t, fs, "/src/images/c.webp")
	touch(t, fs, "/src/images/notes.txt")
	_ = fs.MkdirAll("/src/images/sub.jpg", 0o755)

	got, err := New(fs, nil).Files(context.Background(), "/src/images", []string{".jpg", ".jpeg", ".png"})
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	want := []string{"/src/images/a.jpg", "/src/images/b.PNG"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v", got)
	}

	_, err = New(fs, nil).Files(context.Background(), "/nope", nil)
	if !errors.Is(err, contract.ErrConfig) {
		t.Fatalf("missing dir should be config error, got %v", err)
	}
}
