package contract

import "errors"

// 最小错误分类（哨兵）。
var (
	// ErrConfig: 配置错误（描述文件缺键、参数非法等）；在任何文件变更前中止。
	ErrConfig = errors.New("config error")
	// ErrNoClasses: 未解析到任何类名。
	ErrNoClasses = errors.New("no classes resolved")
	// ErrDuplicateClassName: 归一化后两个类名冲突。
	ErrDuplicateClassName = errors.New("duplicate class name")
	// ErrPathInvalid: 路径无法映射（例如无法从图片目录推导标注目录）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)
