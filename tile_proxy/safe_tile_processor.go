// safe_tile_processor.go
package tile_proxy

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
)

// SafeTileProcessor 限制并发并捕获 panic 的瓦片处理器
type SafeTileProcessor struct {
	maxConcurrent int
	semaphore     chan struct{}
	timeout       time.Duration
}

// NewSafeTileProcessor 创建安全处理器
func NewSafeTileProcessor(maxConcurrent int, timeout time.Duration) *SafeTileProcessor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &SafeTileProcessor{
		maxConcurrent: maxConcurrent,
		semaphore:     make(chan struct{}, maxConcurrent),
		timeout:       timeout,
	}
}

// ProcessTileResult 处理结果
type ProcessTileResult struct {
	Data []byte
	Err  error
}

// ProcessWithRecover 占用一个并发槽执行 processFn，超时或 panic 都转成错误
func (s *SafeTileProcessor) ProcessWithRecover(
	ctx context.Context,
	processFn func() ([]byte, error),
) (result ProcessTileResult) {
	select {
	case s.semaphore <- struct{}{}:
		defer func() { <-s.semaphore }()
	case <-ctx.Done():
		return ProcessTileResult{Err: ctx.Err()}
	}

	done := make(chan ProcessTileResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				fmt.Printf("⚠️ Tile processing panic: %v\n", r)
				done <- ProcessTileResult{Err: errors.Errorf("panic recovered: %v\nstack: %s", r, debug.Stack())}
			}
		}()

		data, err := processFn()
		done <- ProcessTileResult{Data: data, Err: err}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case result = <-done:
		return result
	case <-ctx.Done():
		return ProcessTileResult{Err: ctx.Err()}
	case <-timer.C:
		return ProcessTileResult{Err: errors.New("processing timeout")}
	}
}
