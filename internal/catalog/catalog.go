package catalog

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"yolods/pkg/contract"
)

// Policy: 类名匹配策略。必须由调用方显式决定。
type Policy struct {
	// FoldCase: 匹配前统一转小写。
	FoldCase bool
}

// Key 返回 name 在该策略下的归一化匹配键（去首尾空白，可选小写）。
func (p Policy) Key(name string) string {
	k := strings.TrimSpace(name)
	if p.FoldCase {
		k = strings.ToLower(k)
	}
	return k
}

// Catalog: 有序、无重复的类名列表及其派生索引。构造后只读。
type Catalog struct {
	names  []string
	index  map[string]int
	policy Policy
}

// Build 按给定顺序构造 Catalog。
// 名称保留去空白后的原始大小写；归一化冲突返回 ErrDuplicateClassName。
func Build(names []string, p Policy) (*Catalog, error) {
	if len(names) == 0 {
		return nil, contract.ErrNoClasses
	}
	c := &Catalog{
		names:  make([]string, 0, len(names)),
		index:  make(map[string]int, len(names)),
		policy: p,
	}
	for _, n := range names {
		name := strings.TrimSpace(n)
		if name == "" {
			return nil, errors.Wrapf(contract.ErrConfig, "empty class name at index %d", len(c.names))
		}
		k := p.Key(name)
		if prev, dup := c.index[k]; dup {
			return nil, errors.Wrapf(contract.ErrDuplicateClassName, "%q (index %d) collides with %q (index %d)", name, len(c.names), c.names[prev], prev)
		}
		c.index[k] = len(c.names)
		c.names = append(c.names, name)
	}
	return c, nil
}

// Len 返回类数。
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.names)
}

// Names 返回类名副本（按索引顺序）。
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Policy 返回构造时的匹配策略。
func (c *Catalog) Policy() Policy { return c.policy }

// IndexOf 按策略查找类名索引。
func (c *Catalog) IndexOf(name string) (int, bool) {
	if c == nil {
		return 0, false
	}
	i, ok := c.index[c.policy.Key(name)]
	return i, ok
}

// Name 返回索引对应类名。
func (c *Catalog) Name(i int) (string, bool) {
	if !c.Valid(i) {
		return "", false
	}
	return c.names[i], true
}

// Valid 判定 0 <= i < Len()。
func (c *Catalog) Valid(i int) bool { return c != nil && i >= 0 && i < len(c.names) }

// Map: 旧索引 → 新索引；缺失项表示该标注需丢弃。
type Map struct {
	m      map[int]int
	oldLen int
}

// Lookup 查询旧索引的新索引；越界或未保留均返回 false。
func (m Map) Lookup(old int) (int, bool) {
	if old < 0 || old >= m.oldLen {
		return 0, false
	}
	n, ok := m.m[old]
	return n, ok
}

// Len 返回保留的旧索引个数。
func (m Map) Len() int { return len(m.m) }

// IndexMap 由旧 Catalog 与目标 Catalog 构造一次性索引映射。
// 匹配使用目标 Catalog 的策略。
func IndexMap(old, target *Catalog) Map {
	m := Map{m: make(map[int]int), oldLen: old.Len()}
	for i, n := range old.names {
		if j, ok := target.IndexOf(n); ok {
			m.m[i] = j
		}
	}
	return m
}

// Union 合并多个类名列表：去空白、精确去重、升序排序。
func Union(lists ...[]string) []string {
	seen := map[string]struct{}{}
	for _, l := range lists {
		for _, n := range l {
			n = strings.TrimSpace(n)
			if n == "" {
				continue
			}
			seen[n] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
