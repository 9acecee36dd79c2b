package properties

import (
	"fmt"

	"go-matchmaking/domain/wire"
)

type Op uint8

const (
	OpAdded Op = iota + 1
	OpChanged
	OpRemoved
)

func (o Op) String() string {
	switch o {
	case OpAdded:
		return "added"
	case OpChanged:
		return "changed"
	case OpRemoved:
		return "removed"
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// Change reports one key touched by Apply.
type Change struct {
	Key byte
	Op  Op
}

type Entry struct {
	Key   byte
	Value []byte
}

// Delta is the decoded form of a sync message: added or changed entries
// followed by removed keys.
type Delta struct {
	Changed []Entry
	Removed []byte
}

func (d Delta) Empty() bool {
	return len(d.Changed) == 0 && len(d.Removed) == 0
}

func (d Delta) Write(w *wire.Writer) {
	w.Uvarint(uint64(len(d.Changed)))
	for _, e := range d.Changed {
		w.Byte(e.Key)
		w.Blob(e.Value)
	}
	w.Uvarint(uint64(len(d.Removed)))
	for _, k := range d.Removed {
		w.Byte(k)
	}
}

// maxDeltaEntries bounds the counts read from the wire; keys are one byte.
const maxDeltaEntries = 256

func ReadDelta(r *wire.Reader) (Delta, error) {
	var d Delta
	n := r.Uvarint()
	if n > maxDeltaEntries {
		return d, fmt.Errorf("properties: delta has %d entries", n)
	}
	for range n {
		k := r.Byte()
		v := r.Blob()
		if r.Err() != nil {
			break
		}
		d.Changed = append(d.Changed, Entry{Key: k, Value: v})
	}
	n = r.Uvarint()
	if n > maxDeltaEntries {
		return d, fmt.Errorf("properties: delta removes %d keys", n)
	}
	for range n {
		k := r.Byte()
		if r.Err() != nil {
			break
		}
		d.Removed = append(d.Removed, k)
	}
	if err := r.Err(); err != nil {
		return Delta{}, fmt.Errorf("properties: decoding delta: %w", err)
	}
	return d, nil
}
