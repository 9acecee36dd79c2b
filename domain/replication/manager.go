// Package replication mirrors game objects across a session. Each scene
// has a Manager that advertises the objects it owns and builds mirrors of
// the objects other participants own. Frames travel over the sync channel
// of the matchmaking client.
package replication

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"go-matchmaking/domain/wire"
)

var (
	ErrUnknownFactory = errors.New("replication: unknown factory")
	ErrUnknownObject  = errors.New("replication: unknown object")
	ErrDuplicateScene = errors.New("replication: scene already registered")
	ErrUnknownScene   = errors.New("replication: unknown scene")
	ErrMalformed      = errors.New("replication: malformed frame")
)

// MessageKind tags a replication frame.
type MessageKind byte

const (
	// MsgStart asks every participant to re-advertise its objects.
	MsgStart MessageKind = iota + 1
	MsgCreate
	MsgUpdate
	MsgRemove
)

func (k MessageKind) String() string {
	switch k {
	case MsgStart:
		return "Start"
	case MsgCreate:
		return "Create"
	case MsgUpdate:
		return "Update"
	case MsgRemove:
		return "Remove"
	}
	return fmt.Sprintf("MessageKind(%d)", byte(k))
}

// Factory builds a component from the constructor arguments carried by a
// Create frame.
type Factory func(args *wire.Reader) (SyncComponent, error)

// Scene receives objects as they appear and disappear.
type Scene interface {
	AddEntity(o *Object)
	RemoveEntity(o *Object)
}

// Sender delivers a sync frame to the other participants.
type Sender interface {
	SendSync(payload []byte) error
}

type Object struct {
	ID        uuid.UUID
	Owner     int32
	Factory   string
	Component SyncComponent

	args  []byte
	local bool
}

// Local reports whether this participant owns the object.
func (o *Object) Local() bool { return o.local }

type Config struct {
	// Scene names the scene on the wire; every participant must use the
	// same name.
	Scene  string
	Hooks  Scene
	Sender Sender
	// Owner returns the local participant id stamped on spawned objects.
	Owner  func() int32
	Logger *slog.Logger
}

type Manager struct {
	mu        sync.Mutex
	cfg       Config
	log       *slog.Logger
	factories map[string]Factory
	objects   map[uuid.UUID]*Object
}

func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Owner == nil {
		cfg.Owner = func() int32 { return -1 }
	}
	return &Manager{
		cfg:       cfg,
		log:       cfg.Logger.With(slog.String("scene", cfg.Scene)),
		factories: make(map[string]Factory),
		objects:   make(map[uuid.UUID]*Object),
	}
}

func (m *Manager) Scene() string { return m.cfg.Scene }

// RegisterFactory makes name constructible by remote Create frames.
func (m *Manager) RegisterFactory(name string, f Factory) {
	m.mu.Lock()
	m.factories[name] = f
	m.mu.Unlock()
}

func (m *Manager) newFrame(kind MessageKind) *wire.Writer {
	w := wire.NewWriter(64)
	w.Text(m.cfg.Scene)
	w.Byte(byte(kind))
	return w
}

func (m *Manager) send(w *wire.Writer) {
	if m.cfg.Sender == nil {
		return
	}
	if err := m.cfg.Sender.SendSync(w.Bytes()); err != nil {
		m.log.Warn("sync send failed", slog.String("error", err.Error()))
	}
}

// Start asks the other participants to advertise their objects.
func (m *Manager) Start() {
	m.send(m.newFrame(MsgStart))
}

// Spawn creates a locally owned object with factory and advertises it.
func (m *Manager) Spawn(factory string, args []byte) (*Object, error) {
	m.mu.Lock()
	f, ok := m.factories[factory]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFactory, factory)
	}
	comp, err := f(wire.NewReader(args))
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", factory, err)
	}
	return m.add(factory, comp, append([]byte(nil), args...)), nil
}

// Add advertises an existing component. Remote participants rebuild it
// with factory and no arguments, then apply its full state.
func (m *Manager) Add(factory string, comp SyncComponent) *Object {
	return m.add(factory, comp, nil)
}

func (m *Manager) add(factory string, comp SyncComponent, args []byte) *Object {
	o := &Object{
		ID:        uuid.New(),
		Owner:     m.cfg.Owner(),
		Factory:   factory,
		Component: comp,
		args:      args,
		local:     true,
	}
	m.mu.Lock()
	m.objects[o.ID] = o
	m.mu.Unlock()

	if m.cfg.Hooks != nil {
		m.cfg.Hooks.AddEntity(o)
	}
	m.send(m.createFrame(o))
	return o
}

func (m *Manager) createFrame(o *Object) *wire.Writer {
	w := m.newFrame(MsgCreate)
	w.Blob(o.ID[:])
	w.Int32(o.Owner)
	w.Text(o.Factory)
	w.Blob(o.args)
	full, ok := o.Component.(FullSyncWriter)
	w.Bool(ok)
	if ok {
		snap := wire.NewWriter(64)
		full.WriteFullSyncData(snap)
		w.Blob(snap.Bytes())
	}
	return w
}

// Remove destroys a locally owned object everywhere.
func (m *Manager) Remove(id uuid.UUID) error {
	m.mu.Lock()
	o, ok := m.objects[id]
	if !ok || !o.local {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}
	delete(m.objects, id)
	m.mu.Unlock()

	if m.cfg.Hooks != nil {
		m.cfg.Hooks.RemoveEntity(o)
	}
	w := m.newFrame(MsgRemove)
	w.Blob(id[:])
	m.send(w)
	return nil
}

func (m *Manager) Object(id uuid.UUID) (*Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[id]
	return o, ok
}

// Objects returns every known object, local and mirrored, ordered by id.
func (m *Manager) Objects() []*Object {
	m.mu.Lock()
	out := slices.Collect(maps.Values(m.objects))
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b *Object) int { return cmp.Compare(a.ID.String(), b.ID.String()) })
	return out
}

// Update sends a delta for every local object with pending changes.
func (m *Manager) Update() {
	for _, o := range m.Objects() {
		if !o.local || !o.Component.NeedsSync() {
			continue
		}
		data := wire.NewWriter(32)
		o.Component.WriteSyncData(data)
		w := m.newFrame(MsgUpdate)
		w.Blob(o.ID[:])
		w.Blob(data.Bytes())
		m.send(w)
	}
}

// DropOwner removes the mirrors of objects owned by owner, typically after
// that participant left.
func (m *Manager) DropOwner(owner int32) int {
	m.mu.Lock()
	var dropped []*Object
	for id, o := range m.objects {
		if !o.local && o.Owner == owner {
			delete(m.objects, id)
			dropped = append(dropped, o)
		}
	}
	m.mu.Unlock()
	if m.cfg.Hooks != nil {
		for _, o := range dropped {
			m.cfg.Hooks.RemoveEntity(o)
		}
	}
	return len(dropped)
}

func readID(r *wire.Reader) (uuid.UUID, error) {
	b := r.Blob()
	if err := r.Err(); err != nil {
		return uuid.Nil, err
	}
	return uuid.FromBytes(b)
}

// handle processes a frame whose scene name has already been consumed.
func (m *Manager) handle(r *wire.Reader) error {
	kind := MessageKind(r.Byte())
	if err := r.Err(); err != nil {
		return err
	}
	switch kind {
	case MsgStart:
		for _, o := range m.Objects() {
			if o.local {
				m.send(m.createFrame(o))
			}
		}
		return nil
	case MsgCreate:
		return m.handleCreate(r)
	case MsgUpdate:
		return m.handleUpdate(r)
	case MsgRemove:
		return m.handleRemove(r)
	}
	return fmt.Errorf("%w: kind %d", ErrMalformed, byte(kind))
}

func (m *Manager) handleCreate(r *wire.Reader) error {
	id, err := readID(r)
	if err != nil {
		return err
	}
	owner := r.Int32()
	factory := r.Text()
	args := r.Blob()
	var snapshot []byte
	if r.Bool() {
		snapshot = r.Blob()
	}
	if err := r.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	_, exists := m.objects[id]
	f, ok := m.factories[factory]
	m.mu.Unlock()
	if exists {
		return nil
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFactory, factory)
	}
	comp, err := f(wire.NewReader(args))
	if err != nil {
		return fmt.Errorf("create %s: %w", factory, err)
	}
	if snapshot != nil {
		if err := comp.ReadSyncData(wire.NewReader(snapshot)); err != nil {
			return fmt.Errorf("create %s snapshot: %w", factory, err)
		}
	}
	o := &Object{ID: id, Owner: owner, Factory: factory, Component: comp, args: append([]byte(nil), args...)}

	m.mu.Lock()
	if _, exists := m.objects[id]; exists {
		m.mu.Unlock()
		return nil
	}
	m.objects[id] = o
	m.mu.Unlock()

	m.log.Debug("mirror created", slog.String("id", id.String()), slog.String("factory", factory), slog.Int("owner", int(owner)))
	if m.cfg.Hooks != nil {
		m.cfg.Hooks.AddEntity(o)
	}
	return nil
}

func (m *Manager) handleUpdate(r *wire.Reader) error {
	id, err := readID(r)
	if err != nil {
		return err
	}
	data := r.Blob()
	if err := r.Err(); err != nil {
		return err
	}
	o, ok := m.Object(id)
	if !ok || o.local {
		return nil
	}
	return o.Component.ReadSyncData(wire.NewReader(data))
}

func (m *Manager) handleRemove(r *wire.Reader) error {
	id, err := readID(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	o, ok := m.objects[id]
	if !ok || o.local {
		m.mu.Unlock()
		return nil
	}
	delete(m.objects, id)
	m.mu.Unlock()
	if m.cfg.Hooks != nil {
		m.cfg.Hooks.RemoveEntity(o)
	}
	return nil
}
