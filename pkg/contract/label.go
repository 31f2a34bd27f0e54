package contract

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
)

// LineIssue: 读取标注文件时被跳过的非法行。
type LineIssue struct {
	Line   int // 1 起
	Text   string
	Reason string
}

// ParseLabel 解析 YOLO 标注文本：每行 "<class> <geometry...>"。
// - 空白行静默跳过；
// - 首 token 不是整数的行记为 LineIssue 并跳过；
// - 其余 token 原样作为 Geometry 保留。
func ParseLabel(r io.Reader) ([]Annotation, []LineIssue, error) {
	var (
		out    []Annotation
		issues []LineIssue
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		cls, err := strconv.Atoi(fields[0])
		if err != nil {
			issues = append(issues, LineIssue{Line: n, Text: sc.Text(), Reason: "class index is not an integer"})
			continue
		}
		geo := make([]string, len(fields)-1)
		copy(geo, fields[1:])
		out = append(out, Annotation{Class: cls, Geometry: geo})
	}
	if err := sc.Err(); err != nil {
		return out, issues, err
	}
	return out, issues, nil
}

// FormatLabel 将标注行以 '\n' 连接（无尾随换行，不产出空行）。
func FormatLabel(lines []Annotation) []byte {
	var b bytes.Buffer
	for i, a := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strconv.Itoa(a.Class))
		for _, g := range a.Geometry {
			b.WriteByte(' ')
			b.WriteString(g)
		}
	}
	return b.Bytes()
}
