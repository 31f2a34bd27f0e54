package catalog

import (
	"errors"
	"reflect"
	"testing"

	"yolods/pkg/contract"
)

func TestBuildAndLookup(t *testing.T) {
	c, err := Build([]string{" cat", "dog ", "bird"}, Policy{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if c.Len() != 3 {
		t.Fatalf("len=%d", c.Len())
	}
	if i, ok := c.IndexOf("dog"); !ok || i != 1 {
		t.Fatalf("IndexOf dog = %d %v", i, ok)
	}
	if _, ok := c.IndexOf("Dog"); ok {
		t.Fatalf("case-sensitive policy must not match Dog")
	}
	if n, ok := c.Name(0); !ok || n != "cat" {
		t.Fatalf("Name(0) = %q", n)
	}
	if _, ok := c.Name(3); ok {
		t.Fatalf("Name(3) must be out of range")
	}
	names := c.Names()
	names[0] = "x"
	if n, _ := c.Name(0); n != "cat" {
		t.Fatalf("Names must return a copy")
	}
}

func TestBuildFoldCase(t *testing.T) {
	c, err := Build([]string{"COW", "horse"}, Policy{FoldCase: true})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if i, ok := c.IndexOf(" cow "); !ok || i != 0 {
		t.Fatalf("fold case lookup failed")
	}
	if n, _ := c.Name(0); n != "COW" {
		t.Fatalf("input spelling must be kept, got %q", n)
	}
}

func TestBuildErrors(t *testing.T) {
	if _, err := Build(nil, Policy{}); !errors.Is(err, contract.ErrNoClasses) {
		t.Fatalf("empty: %v", err)
	}
	if _, err := Build([]string{"a", " a"}, Policy{}); !errors.Is(err, contract.ErrDuplicateClassName) {
		t.Fatalf("trim duplicate: %v", err)
	}
	if _, err := Build([]string{"Cow", "COW"}, Policy{}); err != nil {
		t.Fatalf("case-sensitive policy keeps both: %v", err)
	}
	if _, err := Build([]string{"Cow", "COW"}, Policy{FoldCase: true}); !errors.Is(err, contract.ErrDuplicateClassName) {
		t.Fatalf("fold duplicate: %v", err)
	}
	if _, err := Build([]string{"a", "  "}, Policy{}); !errors.Is(err, contract.ErrConfig) {
		t.Fatalf("blank name: %v", err)
	}
}

func TestIndexMap(t *testing.T) {
	old, _ := Build([]string{"cat", "dog", "bird"}, Policy{})
	target, _ := Build([]string{"bird", "dog"}, Policy{})
	m := IndexMap(old, target)
	if m.Len() != 2 {
		t.Fatalf("len=%d", m.Len())
	}
	cases := []struct {
		old  int
		want int
		ok   bool
	}{
		{0, 0, false},
		{1, 1, true},
		{2, 0, true},
		{3, 0, false},
		{-1, 0, false},
	}
	for _, tt := range cases {
		got, ok := m.Lookup(tt.old)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Fatalf("Lookup(%d) = %d %v, want %d %v", tt.old, got, ok, tt.want, tt.ok)
		}
	}
}

func TestUnion(t *testing.T) {
	got := Union([]string{"fire", " smoke", "Ants"}, []string{"smoke", "", "ants"}, nil)
	want := []string{"Ants", "ants", "fire", "smoke"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}
