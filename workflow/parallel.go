package workflow

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ParallelWorkflow 并行工作流
// 将同一输入扇出给所有步骤并发执行，结果按步骤名合并。
// 任一步骤失败即取消其余步骤并返回该错误。
type ParallelWorkflow struct {
	name        string
	description string
	steps       []Step
}

// NewParallelWorkflow 创建并行工作流
// 步骤名必须唯一，重名的结果会相互覆盖。
func NewParallelWorkflow(name, description string, steps ...Step) *ParallelWorkflow {
	return &ParallelWorkflow{
		name:        name,
		description: description,
		steps:       steps,
	}
}

// Execute 并发执行所有步骤
// 成功时返回 map[string]any，以步骤名为键。
func (w *ParallelWorkflow) Execute(ctx context.Context, input any) (any, error) {
	if len(w.steps) == 0 {
		return nil, fmt.Errorf("no steps to execute")
	}

	g, ctx := errgroup.WithContext(ctx)
	results := make([]any, len(w.steps))

	for i, step := range w.steps {
		g.Go(func() error {
			out, err := step.Execute(ctx, input)
			if err != nil {
				return fmt.Errorf("step %s failed: %w", step.Name(), err)
			}
			results[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(w.steps))
	for i, step := range w.steps {
		merged[step.Name()] = results[i]
	}
	return merged, nil
}

func (w *ParallelWorkflow) Name() string {
	return w.name
}

func (w *ParallelWorkflow) Description() string {
	return w.description
}
