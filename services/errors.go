package services

import (
	"strings"

	"github.com/GrainArc/GlobeMVT/Transformer"
	"github.com/GrainArc/GlobeMVT/pgmvt"
	"github.com/GrainArc/GlobeMVT/tile_proxy"
	"github.com/pkg/errors"
)

var (
	// ErrTileUnavailable 瓦片不存在或拉取失败，显示空白瓦片
	ErrTileUnavailable = tile_proxy.ErrTileUnavailable
	// ErrMalformedTile 瓦片无法解析，按不存在处理
	ErrMalformedTile = pgmvt.ErrMalformedTile
	// ErrInvalidGeometry 矩形或范围非法
	ErrInvalidGeometry = Transformer.ErrInvalidGeometry

	ErrCompositorFailure = errors.New("compositor failure")
	ErrLevelOutOfRange   = errors.New("level out of range")
	ErrProviderDestroyed = errors.New("provider destroyed")
)

const notAvailableSuffix = "tiles not available"

// isNotAvailable 合成器返回的"瓦片不可用"错误不视为失败
func isNotAvailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTileUnavailable) {
		return true
	}
	return strings.HasSuffix(err.Error(), notAvailableSuffix)
}

// IsUnavailable 判断错误是否应当渲染为空白瓦片
func IsUnavailable(err error) bool {
	return isNotAvailable(err) || errors.Is(err, ErrMalformedTile) || errors.Is(err, ErrLevelOutOfRange)
}
