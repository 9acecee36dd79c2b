// Package properties implements the sparse key/value table used for room
// and player custom data.
//
// Values are stored as self-describing buffers and decoded on read. Local
// writes mark keys dirty; Flush writes the dirty keys as a delta and clears
// the dirty set in one step. Deltas applied from the network never mark
// keys dirty, so only local changes are sent back out.
package properties

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"go-matchmaking/domain/wire"
)

var (
	ErrReadOnly = errors.New("properties: table is read-only")
	ErrNotFound = errors.New("properties: key not found")
)

type Table struct {
	mu       sync.RWMutex
	values   map[byte][]byte
	readOnly bool

	// dirtyMu guards dirty. A key that is dirty but absent from values
	// was removed.
	dirtyMu sync.Mutex
	dirty   map[byte]struct{}
}

func NewTable() *Table {
	return &Table{
		values: make(map[byte][]byte),
		dirty:  make(map[byte]struct{}),
	}
}

// NewReadOnlyTable returns a table that only changes through ApplyDelta.
func NewReadOnlyTable() *Table {
	t := NewTable()
	t.readOnly = true
	return t
}

func (t *Table) ReadOnly() bool { return t.readOnly }

func (t *Table) markDirty(key byte) {
	t.dirtyMu.Lock()
	t.dirty[key] = struct{}{}
	t.dirtyMu.Unlock()
}

// Set stores v under key and marks the key dirty.
func Set[T any](t *Table, key byte, v T) error {
	if t.readOnly {
		return ErrReadOnly
	}
	data, err := encodeValue(v)
	if err != nil {
		return fmt.Errorf("set key %d: %w", key, err)
	}
	t.mu.Lock()
	t.values[key] = data
	t.mu.Unlock()
	t.markDirty(key)
	return nil
}

// Get decodes the value stored under key.
func Get[T any](t *Table, key byte) (T, error) {
	var out T
	t.mu.RLock()
	data, ok := t.values[key]
	t.mu.RUnlock()
	if !ok {
		return out, fmt.Errorf("get key %d: %w", key, ErrNotFound)
	}
	if err := decodeValue(data, &out); err != nil {
		return out, fmt.Errorf("get key %d: %w", key, err)
	}
	return out, nil
}

// TryGet is like Get but reports failure as a boolean.
func TryGet[T any](t *Table, key byte) (T, bool) {
	v, err := Get[T](t, key)
	return v, err == nil
}

func (t *Table) Has(key byte) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.values[key]
	return ok
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.values)
}

// Keys returns the stored keys in ascending order.
func (t *Table) Keys() []byte {
	t.mu.RLock()
	keys := make([]byte, 0, len(t.values))
	for k := range t.values {
		keys = append(keys, k)
	}
	t.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

// Remove deletes key. Removing an absent key is a no-op.
func (t *Table) Remove(key byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.mu.Lock()
	_, ok := t.values[key]
	delete(t.values, key)
	t.mu.Unlock()
	if ok {
		t.markDirty(key)
	}
	return nil
}

// Clear removes every key and marks each one dirty.
func (t *Table) Clear() error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.mu.Lock()
	removed := make([]byte, 0, len(t.values))
	for k := range t.values {
		removed = append(removed, k)
	}
	clear(t.values)
	t.mu.Unlock()

	t.dirtyMu.Lock()
	for _, k := range removed {
		t.dirty[k] = struct{}{}
	}
	t.dirtyMu.Unlock()
	return nil
}

func (t *Table) NeedsSync() bool {
	t.dirtyMu.Lock()
	defer t.dirtyMu.Unlock()
	return len(t.dirty) > 0
}

// ForceFullSync marks every stored key dirty so the next flush carries the
// whole table.
func (t *Table) ForceFullSync() {
	t.mu.RLock()
	t.dirtyMu.Lock()
	for k := range t.values {
		t.dirty[k] = struct{}{}
	}
	t.dirtyMu.Unlock()
	t.mu.RUnlock()
}

// Flush writes the pending delta to w and clears the dirty set.
func (t *Table) Flush(w *wire.Writer) {
	t.dirtyMu.Lock()
	keys := make([]byte, 0, len(t.dirty))
	for k := range t.dirty {
		keys = append(keys, k)
	}
	clear(t.dirty)
	t.dirtyMu.Unlock()
	slices.Sort(keys)

	var d Delta
	t.mu.RLock()
	for _, k := range keys {
		if v, ok := t.values[k]; ok {
			d.Changed = append(d.Changed, Entry{Key: k, Value: v})
		} else {
			d.Removed = append(d.Removed, k)
		}
	}
	t.mu.RUnlock()
	d.Write(w)
}

// FlushBytes is Flush into a fresh buffer.
func (t *Table) FlushBytes() []byte {
	w := wire.NewWriter(32)
	t.Flush(w)
	return w.Bytes()
}

// WriteFull writes every stored key as a delta without touching the dirty
// set.
func (t *Table) WriteFull(w *wire.Writer) {
	var d Delta
	t.mu.RLock()
	for k, v := range t.values {
		d.Changed = append(d.Changed, Entry{Key: k, Value: v})
	}
	t.mu.RUnlock()
	slices.SortFunc(d.Changed, func(a, b Entry) int { return int(a.Key) - int(b.Key) })
	d.Write(w)
}

// Apply merges a delta received from the network and reports what
// changed. Read-only tables accept deltas; nothing is marked dirty.
func (t *Table) Apply(d Delta) []Change {
	changes := make([]Change, 0, len(d.Changed)+len(d.Removed))
	t.mu.Lock()
	for _, e := range d.Changed {
		op := OpChanged
		if _, ok := t.values[e.Key]; !ok {
			op = OpAdded
		}
		t.values[e.Key] = append([]byte(nil), e.Value...)
		changes = append(changes, Change{Key: e.Key, Op: op})
	}
	for _, k := range d.Removed {
		if _, ok := t.values[k]; !ok {
			continue
		}
		delete(t.values, k)
		changes = append(changes, Change{Key: k, Op: OpRemoved})
	}
	t.mu.Unlock()
	return changes
}

// ApplyFrom reads a delta from r and applies it.
func (t *Table) ApplyFrom(r *wire.Reader) ([]Change, error) {
	d, err := ReadDelta(r)
	if err != nil {
		return nil, err
	}
	return t.Apply(d), nil
}

// Snapshot returns a copy of the table contents as a delta.
func (t *Table) Snapshot() Delta {
	w := wire.NewWriter(64)
	t.WriteFull(w)
	d, _ := ReadDelta(wire.NewReader(w.Bytes()))
	return d
}
