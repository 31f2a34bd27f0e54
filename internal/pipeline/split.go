package pipeline

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"yolods/internal/balance"
	"yolods/internal/materialize"
	"yolods/pkg/contract"
)

// SplitExts: split 命令默认收集的图片扩展名。
var SplitExts = []string{".jpg", ".jpeg", ".png"}

// SplitSettings: split 命令参数。
type SplitSettings struct {
	// Source: 平铺数据集根，含 images/ 与 labels/。
	Source string
	Output string
	Train  float64
	Valid  float64
	// Exts: 参与划分的图片扩展名；为空使用 SplitExts。
	Exts []string
}

// CheckRatios 校验划分比例：0<train，valid>=0，train+valid<=1；剩余归入 test。
func CheckRatios(train, valid float64) error {
	if train <= 0 || valid < 0 || train+valid > 1 {
		return errors.Wrapf(contract.ErrConfig, "split: invalid ratios train=%g valid=%g", train, valid)
	}
	return nil
}

// Split 随机打乱平铺图片并按比例切分为 train/valid/test。
// 切点为 int(n*train) 与其后 int(n*valid)；缺少标注的图片仍复制并告警。
func Split(ctx context.Context, env Env, set SplitSettings) (*Summary, error) {
	sum := newSummary("split")
	sum.Seed = env.Seed
	rep := sum.Report
	if err := CheckRatios(set.Train, set.Valid); err != nil {
		return nil, err
	}
	if strings.TrimSpace(set.Source) == "" || strings.TrimSpace(set.Output) == "" {
		return nil, errors.Wrap(contract.ErrConfig, "split: source and output required")
	}
	if env.Rand == nil {
		return nil, errors.Wrap(contract.ErrConfig, "split: random source required")
	}
	exts := set.Exts
	if len(exts) == 0 {
		exts = SplitExts
	}
	root := contract.NormalizePath(set.Source)
	images, err := env.reader().Files(ctx, path.Join(root, "images"), exts)
	if err != nil {
		return nil, err
	}
	shuffled := balance.Shuffle(env.Rand, images)
	n := len(shuffled)
	trainEnd := int(float64(n) * set.Train)
	validEnd := trainEnd + int(float64(n)*set.Valid)
	if validEnd > n {
		validEnd = n
	}
	parts := map[contract.Split][]string{
		contract.SplitTrain: shuffled[:trainEnd],
		contract.SplitValid: shuffled[trainEnd:validEnd],
		contract.SplitTest:  shuffled[validEnd:],
	}

	mat, err := env.materializer()
	if err != nil {
		return nil, err
	}
	if err := mat.Skeleton(set.Output); err != nil {
		return nil, err
	}
	labels := path.Join(root, "labels")
	for _, sp := range contract.Splits() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pairs := make([]materialize.Pair, 0, len(parts[sp]))
		for _, img := range parts[sp] {
			name := contract.BaseName(img)
			p := materialize.Pair{Name: name, Image: img}
			lp := path.Join(labels, name+".txt")
			if ok, _ := afero.Exists(env.FS, lp); ok {
				p.Label = lp
			} else {
				rep.Warn(contract.Warning{Kind: contract.WarnScan, Op: "match", Split: sp, Path: img, Msg: "label file not found for image"})
			}
			pairs = append(pairs, p)
		}
		ws := begin(env, "materialize", string(sp), len(pairs), nil)
		stats := mat.CopyPairs(contract.Layout(set.Output, sp), pairs, rep)
		ws.finish(int64(stats.Images), statsDetail(stats))
		sum.addSplit(sp, stats)
	}
	env.Logger.Debug("split", "partition", map[string]string{
		"total": fmt.Sprint(n),
		"train": fmt.Sprint(len(parts[contract.SplitTrain])),
		"valid": fmt.Sprint(len(parts[contract.SplitValid])),
		"test":  fmt.Sprint(len(parts[contract.SplitTest])),
	})
	return sum.done(env), nil
}
