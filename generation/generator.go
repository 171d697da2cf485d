package generation

import "context"

// Generator 把一段设计文本转换为文件集。
// 实现必须是并发安全的：工作池会从多个 goroutine 同时调用。
type Generator interface {
	GenerateFiles(ctx context.Context, designText string) (*FileSet, error)
}
