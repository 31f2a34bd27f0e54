package stress

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	cfgpkg "yolods/internal/config"
	"yolods/internal/pipeline"
	"yolods/pkg/contract"
)

// 每个源数据集的训练集图片数。
const pairsPerDataset = 400

// buildSources 生成两个源数据集（多类、多实例），返回父目录。
func buildSources(t *testing.T, dir string) string {
	t.Helper()
	parent := filepath.Join(dir, "datasets")
	for _, ds := range []string{"a", "b"} {
		root := filepath.Join(parent, ds)
		p := contract.Layout(root, contract.SplitTrain)
		for _, d := range []string{p.ImageDir, p.LabelDir} {
			if err := os.MkdirAll(d, 0o755); err != nil {
				t.Fatalf("mkdir: %v", err)
			}
		}
		if err := os.WriteFile(filepath.Join(root, "data.yaml"), []byte("names: [c0, c1, c2, c3]\n"), 0o644); err != nil {
			t.Fatalf("descriptor: %v", err)
		}
		img := make([]byte, 4096)
		for i := 0; i < pairsPerDataset; i++ {
			name := fmt.Sprintf("%s%04d", ds, i)
			if err := os.WriteFile(filepath.Join(p.ImageDir, name+".jpg"), img, 0o644); err != nil {
				t.Fatalf("image: %v", err)
			}
			label := fmt.Sprintf("%d 0.5 0.5 0.1 0.1\n%d 0.2 0.2 0.1 0.1\n", i%4, (i+1)%4)
			if err := os.WriteFile(filepath.Join(p.LabelDir, name+".txt"), []byte(label), 0o644); err != nil {
				t.Fatalf("label: %v", err)
			}
		}
	}
	return parent
}

// runMerge 以指定复制并发执行 merge。
func runMerge(parent, out string, workers int) (*pipeline.Summary, error) {
	cfg := cfgpkg.Defaults()
	cfg.Workers = workers
	cfg.Logging.Level = "error"
	cfg.Merge.Parents = []string{parent}
	cfg.Merge.Output = out
	env, err := cfgpkg.Assemble(cfg, "merge")
	if err != nil {
		return nil, err
	}
	return pipeline.Merge(context.Background(), env, cfg.MergeSettings())
}

// TestStress 在不同复制并发下执行 merge，校验结果一致并记录延迟统计。
func TestStress(t *testing.T) {
	if testing.Short() {
		t.Skip("stress skipped in -short mode")
	}
	parent := buildSources(t, t.TempDir())
	levels := []int{1, 8, 16, 32, 64}
	for _, workers := range levels {
		t.Run(fmt.Sprintf("workers_%d", workers), func(t *testing.T) {
			const runs = 3
			successes := 0
			latencies := make([]time.Duration, 0, runs)
			for i := 0; i < runs; i++ {
				out := filepath.Join(t.TempDir(), "master")
				start := time.Now()
				sum, err := runMerge(parent, out, workers)
				dur := time.Since(start)
				if err != nil {
					t.Errorf("run %d: %v", i, err)
					continue
				}
				if sum.Written.Labels != 2*pairsPerDataset || sum.Written.Images != 2*pairsPerDataset {
					t.Errorf("run %d: written %+v", i, sum.Written)
					continue
				}
				entries, err := os.ReadDir(filepath.Join(out, "train", "labels"))
				if err != nil || len(entries) != 2*pairsPerDataset {
					t.Errorf("run %d: labels on disk %d (%v)", i, len(entries), err)
					continue
				}
				successes++
				latencies = append(latencies, dur)
			}
			if successes == 0 {
				t.Fatalf("全部运行失败")
			}
			sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
			var total time.Duration
			for _, d := range latencies {
				total += d
			}
			avg := total / time.Duration(len(latencies))
			idx := int(math.Ceil(float64(len(latencies))*0.95)) - 1
			if idx < 0 {
				idx = 0
			}
			p95 := latencies[idx]
			t.Logf("并发%d 成功率%.2f 平均%v 95%%延迟%v", workers, float64(successes)/float64(runs), avg, p95)
		})
	}
}
