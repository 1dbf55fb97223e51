package views

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/GrainArc/GlobeMVT/services"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// SceneMessage 推送给前端的场景消息
type SceneMessage struct {
	Type   string                `json:"type"` // snapshot / events / reset
	Source string                `json:"source"`
	Events []services.SceneEvent `json:"events,omitempty"`
}

// sceneClient 单个连接，写操作串行
type sceneClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *sceneClient) send(msg SceneMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(msg)
}

// SceneHub 每个数据源一个场景，图元变化通过 WebSocket 推送到地球前端
type SceneHub struct {
	upgrader websocket.Upgrader
	scenes   sync.Map // source -> *services.MemoryScene
	clients  sync.Map // source -> *sync.Map[*sceneClient]bool
}

// NewSceneHub 创建场景推送中心
func NewSceneHub() *SceneHub {
	return &SceneHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// SceneFor 为数据源创建新场景，已连接的前端收到 reset
func (h *SceneHub) SceneFor(source string) services.Scene {
	scene := services.NewMemoryScene(func(events []services.SceneEvent) {
		h.broadcast(source, SceneMessage{Type: "events", Source: source, Events: events})
	})
	if _, loaded := h.scenes.Swap(source, scene); loaded {
		h.broadcast(source, SceneMessage{Type: "reset", Source: source})
	}
	return scene
}

// Scene 查询数据源的场景
func (h *SceneHub) Scene(source string) (*services.MemoryScene, bool) {
	v, ok := h.scenes.Load(source)
	if !ok {
		return nil, false
	}
	return v.(*services.MemoryScene), true
}

// Connect WebSocket连接处理，先发送当前图元快照
func (h *SceneHub) Connect(c *gin.Context) {
	source := c.Param("source")
	scene, ok := h.Scene(source)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"code": 404, "error": "source not running: " + source})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	client := &sceneClient{conn: conn}
	h.register(source, client)

	if err := client.send(SceneMessage{Type: "snapshot", Source: source, Events: scene.Snapshot()}); err != nil {
		h.unregister(source, client)
		return
	}
	go h.readLoop(source, client)
}

func (h *SceneHub) register(source string, client *sceneClient) {
	v, _ := h.clients.LoadOrStore(source, &sync.Map{})
	v.(*sync.Map).Store(client, true)
}

func (h *SceneHub) unregister(source string, client *sceneClient) {
	if v, ok := h.clients.Load(source); ok {
		v.(*sync.Map).Delete(client)
	}
	client.conn.Close()
}

// readLoop 保持连接直到前端断开
func (h *SceneHub) readLoop(source string, client *sceneClient) {
	defer h.unregister(source, client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *SceneHub) broadcast(source string, msg SceneMessage) {
	v, ok := h.clients.Load(source)
	if !ok {
		return
	}
	v.(*sync.Map).Range(func(key, _ interface{}) bool {
		client := key.(*sceneClient)
		if err := client.send(msg); err != nil {
			h.unregister(source, client)
		}
		return true
	})
}

// ClientCount 某数据源的连接数
func (h *SceneHub) ClientCount(source string) int {
	v, ok := h.clients.Load(source)
	if !ok {
		return 0
	}
	n := 0
	v.(*sync.Map).Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Close 断开所有连接
func (h *SceneHub) Close() {
	h.clients.Range(func(k, v interface{}) bool {
		source := k.(string)
		v.(*sync.Map).Range(func(key, _ interface{}) bool {
			h.unregister(source, key.(*sceneClient))
			return true
		})
		return true
	})
}
