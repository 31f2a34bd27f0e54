package diag

import (
	"io/fs"
	"os"

	"github.com/pkg/errors"

	"yolods/pkg/contract"
)

// Code 是最小错误分类代码。
// 用于日志汇总与退出码映射。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeConfig    Code = "config"
	CodeInvariant Code = "invariant"
	CodeIO        Code = "io"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 配置类在任何文件变更前中止
	if errors.Is(err, contract.ErrConfig) ||
		errors.Is(err, contract.ErrNoClasses) ||
		errors.Is(err, contract.ErrDuplicateClassName) {
		return CodeConfig
	}
	if errors.Is(err, contract.ErrInvariantViolation) ||
		errors.Is(err, contract.ErrPathInvalid) {
		return CodeInvariant
	}
	var perr *os.PathError
	if errors.As(err, &perr) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return CodeIO
	}
	return CodeUnknown
}

// 进程退出码。
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
	ExitConfig  = 3
)

// ExitCode 将错误映射为退出码：nil→0，配置类→3，其余→1。
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if Classify(err) == CodeConfig {
		return ExitConfig
	}
	return ExitFailure
}
