package replication

import (
	"fmt"
	"sync"

	"go-matchmaking/domain/wire"
)

// Registry routes incoming sync frames to the manager of their scene.
// Scenes register when they load and unregister when they are torn down.
type Registry struct {
	mu     sync.RWMutex
	scenes map[string]*Manager
}

func NewRegistry() *Registry {
	return &Registry{scenes: make(map[string]*Manager)}
}

// Register adds m and sends its Start request.
func (g *Registry) Register(m *Manager) error {
	g.mu.Lock()
	if _, ok := g.scenes[m.Scene()]; ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDuplicateScene, m.Scene())
	}
	g.scenes[m.Scene()] = m
	g.mu.Unlock()
	m.Start()
	return nil
}

func (g *Registry) Unregister(scene string) {
	g.mu.Lock()
	delete(g.scenes, scene)
	g.mu.Unlock()
}

func (g *Registry) Manager(scene string) (*Manager, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.scenes[scene]
	return m, ok
}

// Route hands payload to the manager named in its header.
func (g *Registry) Route(payload []byte) error {
	r := wire.NewReader(payload)
	scene := r.Text()
	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	m, ok := g.Manager(scene)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownScene, scene)
	}
	if err := m.handle(r); err != nil {
		return fmt.Errorf("scene %q: %w", scene, err)
	}
	return nil
}

// DropOwner removes owner's mirrors from every registered scene.
func (g *Registry) DropOwner(owner int32) {
	g.mu.RLock()
	managers := make([]*Manager, 0, len(g.scenes))
	for _, m := range g.scenes {
		managers = append(managers, m)
	}
	g.mu.RUnlock()
	for _, m := range managers {
		m.DropOwner(owner)
	}
}
