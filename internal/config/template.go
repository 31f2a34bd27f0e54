package config

import "github.com/goccy/go-json"

// DefaultTemplateConfig 返回一个可直接编辑的默认配置模板：
// - 在 Defaults 基础上给出各命令的示例路径；
// - 组件 Options 写出全部键（值为安全默认），便于发现可配置项。
func DefaultTemplateConfig() Config {
	cfg := Defaults()
	cfg.Match.FoldCase = boolPtr(false)

	cfg.Classes.Parents = []string{"datasets"}
	cfg.Classes.Output = "classes.yaml"

	cfg.Merge.Parents = []string{"datasets"}
	cfg.Merge.Output = "master_dataset"
	cfg.Merge.FoldCase = boolPtr(true)

	cfg.Filter.Descriptor = "master_dataset/master.yaml"
	cfg.Filter.Output = "filtered_dataset"
	cfg.Filter.Keep = []string{"person", "car"}

	cfg.Balance.Root = "filtered_dataset"

	cfg.Trim.Source = "master_dataset"
	cfg.Trim.Output = "trimmed_dataset"

	cfg.Split.Source = "flat_dataset"
	cfg.Split.Output = "split_dataset"

	cfg.Count.Root = "master_dataset"

	cfg.Yaml.Root = "split_dataset"
	cfg.Yaml.Names = []string{"person", "car"}

	cfg.Options.Filesystem = json.RawMessage(`{
  "base": ""
}`)
	cfg.Options.Reader = json.RawMessage(`{
  "descriptor": "data.yaml",
  "exclude_dir_names": [".git", "master_dataset"]
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "atomic": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	return cfg
}
