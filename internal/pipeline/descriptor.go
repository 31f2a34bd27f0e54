package pipeline

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"yolods/internal/catalog"
	"yolods/internal/descriptor"
	"yolods/pkg/contract"
)

// DescriptorSettings: yaml 命令参数。
type DescriptorSettings struct {
	Root     string
	Names    []string
	Policy   catalog.Policy
	File     string
	Form     descriptor.NamesForm
	Absolute bool
}

// Descriptor 为已有的 train/valid/test 目录树写出描述文件。
func Descriptor(ctx context.Context, env Env, set DescriptorSettings) (*Summary, error) {
	sum := newSummary("yaml")
	if strings.TrimSpace(set.Root) == "" {
		return nil, errors.Wrap(contract.ErrConfig, "yaml: root not set")
	}
	cat, err := catalog.Build(set.Names, set.Policy)
	if err != nil {
		return nil, errors.WithMessage(err, "yaml")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := descriptor.New(set.Root, cat.Names())
	if set.Absolute {
		d = d.Absolute()
	}
	w, err := env.writer()
	if err != nil {
		return nil, err
	}
	st := begin(env, "yaml", "write", 1, nil)
	p := contract.NormalizePath(set.Root) + "/" + set.File
	b, err := descriptor.Encode(d, set.Form)
	if err != nil {
		return nil, st.fail(err)
	}
	if err := w.WriteBytes(p, b); err != nil {
		return nil, st.fail(errors.Wrapf(err, "write descriptor %s", p))
	}
	st.finish(1, p)
	sum.Classes = cat.Names()
	sum.Descriptor = contract.NormalizePath(p)
	return sum.done(env), nil
}
