package room

import (
	"slices"
	"sync"
	"sync/atomic"

	"go-matchmaking/domain/properties"
	"go-matchmaking/domain/protocol"
	"go-matchmaking/transport"
)

// ServerPlayer is a connected peer as seen by the server.
type ServerPlayer struct {
	Endpoint transport.Endpoint
	// ID is derived from Endpoint and doubles as the in-room player id.
	ID         int32
	Properties *properties.Table

	room atomic.Pointer[ServerRoom]
}

func newServerPlayer(ep transport.Endpoint) *ServerPlayer {
	return &ServerPlayer{
		Endpoint:   ep,
		ID:         ep.Key(),
		Properties: properties.NewTable(),
	}
}

// Room returns the room the player occupies, or nil while in the lobby.
func (p *ServerPlayer) Room() *ServerRoom { return p.room.Load() }

// ServerRoom is an active room. Players are mutated only by the service,
// under both the service lock and mu; readers outside the service take mu.
type ServerRoom struct {
	Name       string
	Visible    bool
	MaxPlayers int
	// LobbyProperties are published to lobby viewers through RoomInfo.
	LobbyProperties *properties.Table
	// Properties are visible to occupants only.
	Properties *properties.Table

	mu      sync.RWMutex
	players []*ServerPlayer
}

func newServerRoom(opts protocol.RoomOptions) *ServerRoom {
	return &ServerRoom{
		Name:            opts.Name,
		Visible:         opts.Visible,
		MaxPlayers:      opts.MaxPlayers,
		LobbyProperties: properties.NewTable(),
		Properties:      properties.NewTable(),
	}
}

func (r *ServerRoom) Players() []*ServerPlayer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.players)
}

func (r *ServerRoom) PlayerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

func (r *ServerRoom) IsFull() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players) >= r.MaxPlayers
}

func (r *ServerRoom) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players) == 0
}

func (r *ServerRoom) Player(id int32) (*ServerPlayer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.players {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

func (r *ServerRoom) add(p *ServerPlayer) {
	r.mu.Lock()
	r.players = append(r.players, p)
	r.mu.Unlock()
	p.room.Store(r)
}

func (r *ServerRoom) remove(p *ServerPlayer) bool {
	r.mu.Lock()
	i := slices.Index(r.players, p)
	if i >= 0 {
		r.players = slices.Delete(r.players, i, i+1)
	}
	r.mu.Unlock()
	if i < 0 {
		return false
	}
	p.room.Store(nil)
	return true
}

func (r *ServerRoom) Options() protocol.RoomOptions {
	return protocol.RoomOptions{Name: r.Name, MaxPlayers: r.MaxPlayers, Visible: r.Visible}
}

// Info is the lobby projection of the room.
func (r *ServerRoom) Info() protocol.RoomInfo {
	return protocol.RoomInfo{
		Name:        r.Name,
		Visible:     r.Visible,
		MaxPlayers:  r.MaxPlayers,
		PlayerCount: r.PlayerCount(),
		Properties:  r.LobbyProperties.Snapshot(),
	}
}

func (r *ServerRoom) playerEntries() []protocol.PlayerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]protocol.PlayerEntry, 0, len(r.players))
	for _, p := range r.players {
		entries = append(entries, protocol.PlayerEntry{ID: p.ID, Properties: p.Properties.Snapshot()})
	}
	return entries
}

func (r *ServerRoom) snapshotFor(p *ServerPlayer) protocol.RoomSnapshot {
	return protocol.RoomSnapshot{
		Options:         r.Options(),
		LocalPlayerID:   p.ID,
		Properties:      r.Properties.Snapshot(),
		LobbyProperties: r.LobbyProperties.Snapshot(),
		Players:         r.playerEntries(),
	}
}
