package services

import (
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// PrimitiveKind 场景图元类型
type PrimitiveKind string

const (
	PrimitivePoint          PrimitiveKind = "point"
	PrimitiveBillboard      PrimitiveKind = "billboard"
	PrimitiveGroundPolyline PrimitiveKind = "groundPolyline"
)

// PrimitiveRef 场景返回的图元引用
type PrimitiveRef string

// PointPrimitive 点图元，位置为 WGS84 经纬度
type PointPrimitive struct {
	Position  orb.Point `json:"position"`
	Color     string    `json:"color"`
	PixelSize float64   `json:"pixelSize"`
	FeatureID string    `json:"featureId,omitempty"`
	Layer     string    `json:"layer"`
}

// BillboardPrimitive 贴图标注，Image 为 PNG
type BillboardPrimitive struct {
	Position        orb.Point `json:"position"`
	Image           []byte    `json:"image"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	HorizontalAlign string    `json:"horizontalOrigin"`
	VerticalAlign   string    `json:"verticalOrigin"`
	PixelOffset     [2]int    `json:"pixelOffset"`
	NearDistance    float64   `json:"near,omitempty"`
	FarDistance     float64   `json:"far,omitempty"`
	Text            string    `json:"text"`
	Layer           string    `json:"layer"`
}

// GroundPolylinePrimitive 贴地线
type GroundPolylinePrimitive struct {
	Positions []orb.Point `json:"positions"`
	Color     string      `json:"color"`
	Width     float64     `json:"width"`
	FeatureID string      `json:"featureId,omitempty"`
	Layer     string      `json:"layer"`
}

// Scene 宿主场景
type Scene interface {
	AddPrimitive(kind PrimitiveKind, data interface{}) PrimitiveRef
	RemovePrimitive(ref PrimitiveRef)
	SuspendChangeEvents()
	ResumeChangeEvents()
	RaiseChanged()
}

// SceneEvent 场景变更事件
type SceneEvent struct {
	Type string        `json:"type"` // add / remove / changed
	Ref  PrimitiveRef  `json:"ref,omitempty"`
	Kind PrimitiveKind `json:"kind,omitempty"`
	Data interface{}   `json:"data,omitempty"`
}

// MemoryScene 内存场景，挂起期间事件排队，恢复时一并发出
type MemoryScene struct {
	mu         sync.Mutex
	primitives map[PrimitiveRef]SceneEvent
	order      []PrimitiveRef
	suspended  int
	queued     []SceneEvent
	changed    int
	listener   func([]SceneEvent)
}

// NewMemoryScene 创建内存场景，listener 可为 nil
func NewMemoryScene(listener func([]SceneEvent)) *MemoryScene {
	return &MemoryScene{
		primitives: make(map[PrimitiveRef]SceneEvent),
		listener:   listener,
	}
}

func (s *MemoryScene) AddPrimitive(kind PrimitiveKind, data interface{}) PrimitiveRef {
	ref := PrimitiveRef(uuid.NewString())
	ev := SceneEvent{Type: "add", Ref: ref, Kind: kind, Data: data}

	s.mu.Lock()
	s.primitives[ref] = ev
	s.order = append(s.order, ref)
	out := s.emitLocked(ev)
	s.mu.Unlock()

	s.notify(out)
	return ref
}

func (s *MemoryScene) RemovePrimitive(ref PrimitiveRef) {
	s.mu.Lock()
	ev, ok := s.primitives[ref]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.primitives, ref)
	for i, r := range s.order {
		if r == ref {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	out := s.emitLocked(SceneEvent{Type: "remove", Ref: ref, Kind: ev.Kind})
	s.mu.Unlock()

	s.notify(out)
}

func (s *MemoryScene) SuspendChangeEvents() {
	s.mu.Lock()
	s.suspended++
	s.mu.Unlock()
}

func (s *MemoryScene) ResumeChangeEvents() {
	s.mu.Lock()
	if s.suspended > 0 {
		s.suspended--
	}
	var out []SceneEvent
	if s.suspended == 0 {
		out = s.queued
		s.queued = nil
	}
	s.mu.Unlock()

	s.notify(out)
}

func (s *MemoryScene) RaiseChanged() {
	s.mu.Lock()
	s.changed++
	out := s.emitLocked(SceneEvent{Type: "changed"})
	s.mu.Unlock()

	s.notify(out)
}

func (s *MemoryScene) emitLocked(ev SceneEvent) []SceneEvent {
	if s.suspended > 0 {
		s.queued = append(s.queued, ev)
		return nil
	}
	return []SceneEvent{ev}
}

func (s *MemoryScene) notify(events []SceneEvent) {
	if len(events) == 0 || s.listener == nil {
		return
	}
	s.listener(events)
}

// Snapshot 当前存活图元，按添加顺序
func (s *MemoryScene) Snapshot() []SceneEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SceneEvent, 0, len(s.order))
	for _, ref := range s.order {
		out = append(out, s.primitives[ref])
	}
	return out
}

// Len 图元数量
func (s *MemoryScene) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.primitives)
}

// CountKind 某类图元数量
func (s *MemoryScene) CountKind(kind PrimitiveKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.primitives {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// ChangedCount RaiseChanged 调用次数
func (s *MemoryScene) ChangedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// Suspended 是否处于挂起状态
func (s *MemoryScene) Suspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspended > 0
}
