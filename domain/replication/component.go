package replication

import (
	"go-matchmaking/domain/properties"
	"go-matchmaking/domain/wire"
)

// SyncComponent is the replicated state of an object. The owning side
// writes deltas while NeedsSync reports true; mirrors read them.
type SyncComponent interface {
	NeedsSync() bool
	WriteSyncData(w *wire.Writer)
	ReadSyncData(r *wire.Reader) error
}

// FullSyncWriter is implemented by components that can serialize their
// whole state. Such components are advertised with a snapshot so late
// subscribers start from the current state.
type FullSyncWriter interface {
	WriteFullSyncData(w *wire.Writer)
}

// PropertyComponent replicates a properties table.
type PropertyComponent struct {
	Table *properties.Table
}

var (
	_ SyncComponent  = (*PropertyComponent)(nil)
	_ FullSyncWriter = (*PropertyComponent)(nil)
)

func NewPropertyComponent() *PropertyComponent {
	return &PropertyComponent{Table: properties.NewTable()}
}

func (c *PropertyComponent) NeedsSync() bool                  { return c.Table.NeedsSync() }
func (c *PropertyComponent) WriteSyncData(w *wire.Writer)     { c.Table.Flush(w) }
func (c *PropertyComponent) WriteFullSyncData(w *wire.Writer) { c.Table.WriteFull(w) }

func (c *PropertyComponent) ReadSyncData(r *wire.Reader) error {
	_, err := c.Table.ApplyFrom(r)
	return err
}
