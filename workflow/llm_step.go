package workflow

import (
	"context"
	"fmt"
)

// CompletionFunc 执行一次文本补全调用。
// 由调用方注入，通常已包含缓存、重试与 token 预算检查。
type CompletionFunc func(ctx context.Context, prompt string) (string, error)

// PromptStep 将提示词头与输入文本拼接后发起一次补全调用。
// 输入必须是 string，输出是模型返回的文本。
type PromptStep struct {
	name     string
	prompt   string
	complete CompletionFunc
}

// NewPromptStep 创建提示词步骤
func NewPromptStep(name, prompt string, complete CompletionFunc) *PromptStep {
	return &PromptStep{
		name:     name,
		prompt:   prompt,
		complete: complete,
	}
}

func (s *PromptStep) Name() string { return s.name }

func (s *PromptStep) Execute(ctx context.Context, input any) (any, error) {
	if s.complete == nil {
		return nil, fmt.Errorf("PromptStep %q: completion function not configured", s.name)
	}

	text, ok := input.(string)
	if !ok {
		return nil, fmt.Errorf("PromptStep %q: expected string input, got %T", s.name, input)
	}

	// 提示词头在前，输入文档在后
	prompt := s.prompt
	if text != "" {
		if prompt != "" {
			prompt = prompt + "\n\n" + text
		} else {
			prompt = text
		}
	}

	out, err := s.complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("PromptStep %q: completion failed: %w", s.name, err)
	}

	return out, nil
}
