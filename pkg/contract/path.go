package contract

import (
	"path"
	"strings"
)

// NormalizePath 规范化路径，统一为跨平台稳定的正斜杠形式。
// 规则：
// - 使用正斜杠分隔符
// - 清理多余分隔符与路径片段（.、..）
// - 保留相对/绝对语义，不做隐式绝对化
func NormalizePath(p string) string {
	s := strings.ReplaceAll(p, "\\", "/")
	return path.Clean(s)
}

// LabelDirFor 由图片目录推导标注目录：将最后一个名为 "images" 的路径段替换为 "labels"。
// 仅做路径段级替换（不会改动 "my_images" 之类的片段）；不存在该段时返回 ErrPathInvalid。
func LabelDirFor(imageDir string) (string, error) {
	p := NormalizePath(imageDir)
	segs := strings.Split(p, "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i] == "images" {
			segs[i] = "labels"
			return strings.Join(segs, "/"), nil
		}
	}
	return "", ErrPathInvalid
}
