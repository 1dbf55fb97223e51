package tile_proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// ErrTileUnavailable 瓦片不存在或数据源无数据
var ErrTileUnavailable = errors.New("tile not available")

// TileFetcher 按坐标获取原始瓦片数据
type TileFetcher interface {
	FetchTile(ctx context.Context, z, x, y int) ([]byte, error)
}

// TileStore 持久化瓦片缓存
type TileStore interface {
	GetCachedTile(source string, z, x, y int) ([]byte, bool, error)
	SetCachedTile(source string, z, x, y int, data []byte) error
}

// FetcherOptions HTTP 瓦片获取选项
type FetcherOptions struct {
	Subdomains []string
	Headers    map[string]string
	Client     *http.Client
	Cache      *TileCache
	Store      TileStore
}

// HTTPTileFetcher 通过 URL 模板获取矢量瓦片
type HTTPTileFetcher struct {
	source     string
	template   string
	subdomains []string
	headers    map[string]string
	httpClient *http.Client
	cache      *TileCache
	store      TileStore
	group      singleflight.Group
}

// NewHTTPTileFetcher 创建瓦片获取器，模板支持 {z} {x} {y} {-y} {s}
func NewHTTPTileFetcher(source, template string, opts *FetcherOptions) *HTTPTileFetcher {
	if opts == nil {
		opts = &FetcherOptions{}
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &HTTPTileFetcher{
		source:     source,
		template:   template,
		subdomains: opts.Subdomains,
		headers:    opts.Headers,
		httpClient: client,
		cache:      opts.Cache,
		store:      opts.Store,
	}
}

// ParseSubdomains 拆分逗号分隔的子域名
func ParseSubdomains(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// BuildTileURL 构建瓦片URL
func (f *HTTPTileFetcher) BuildTileURL(z, x, y int) string {
	url := f.template
	url = strings.ReplaceAll(url, "{z}", strconv.Itoa(z))
	url = strings.ReplaceAll(url, "{x}", strconv.Itoa(x))
	url = strings.ReplaceAll(url, "{-y}", strconv.Itoa(int(1<<uint(z))-1-y)) // TMS
	url = strings.ReplaceAll(url, "{y}", strconv.Itoa(y))
	if len(f.subdomains) > 0 {
		url = strings.ReplaceAll(url, "{s}", f.subdomains[(x+y)%len(f.subdomains)])
	}
	return url
}

func (f *HTTPTileFetcher) cacheKey(z, x, y int) string {
	return fmt.Sprintf("%s_%d_%d_%d", f.source, z, x, y)
}

// FetchTile 依次查内存缓存、持久缓存、远程服务，同一 URL 并发请求只发一次
func (f *HTTPTileFetcher) FetchTile(ctx context.Context, z, x, y int) ([]byte, error) {
	key := f.cacheKey(z, x, y)
	coord := TileCoord{Z: z, X: x, Y: y}
	if f.cache != nil {
		if data, ok := f.cache.Get(coord); ok {
			return data, nil
		}
	}
	if f.store != nil {
		data, found, err := f.store.GetCachedTile(f.source, z, x, y)
		if err != nil {
			fmt.Printf("[WARN] tile store read %s: %v\n", key, err)
		} else if found {
			if f.cache != nil {
				f.cache.Set(coord, data)
			}
			return data, nil
		}
	}

	url := f.BuildTileURL(z, x, y)
	ch := f.group.DoChan(url, func() (interface{}, error) {
		return f.fetchTile(context.WithoutCancel(ctx), url)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		data := res.Val.([]byte)
		if f.cache != nil {
			f.cache.Set(coord, data)
		}
		if f.store != nil {
			if err := f.store.SetCachedTile(f.source, z, x, y, data); err != nil {
				fmt.Printf("[WARN] tile store write %s: %v\n", key, err)
			}
		}
		return data, nil
	}
}

// fetchTile 获取单个瓦片
func (f *HTTPTileFetcher) fetchTile(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create request failed")
	}

	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "application/vnd.mapbox-vector-tile,application/x-protobuf,*/*;q=0.8")
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch tile failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		return nil, errors.Wrapf(ErrTileUnavailable, "status %d", resp.StatusCode)
	default:
		return nil, errors.Errorf("tile server returned status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response failed")
	}
	if len(data) == 0 {
		return nil, errors.Wrap(ErrTileUnavailable, "empty body")
	}
	return data, nil
}
