package client

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"

	"go-matchmaking/domain/properties"
	"go-matchmaking/domain/protocol"
)

// NetworkPlayer is a member of the current room as seen by this client.
type NetworkPlayer interface {
	ID() int32
	Properties() *properties.Table
	IsLocal() bool
}

// LocalNetworkPlayer is this client's own player. Its properties are
// writable and synced to the server on Update.
type LocalNetworkPlayer struct {
	id    atomic.Int32
	props *properties.Table
}

func newLocalPlayer() *LocalNetworkPlayer {
	p := &LocalNetworkPlayer{props: properties.NewTable()}
	p.id.Store(protocol.NoPlayer)
	return p
}

func (p *LocalNetworkPlayer) ID() int32                     { return p.id.Load() }
func (p *LocalNetworkPlayer) Properties() *properties.Table { return p.props }
func (p *LocalNetworkPlayer) IsLocal() bool                 { return true }

// RemoteNetworkPlayer mirrors another member; its properties are
// read-only.
type RemoteNetworkPlayer struct {
	id    int32
	props *properties.Table
}

func newRemotePlayer(id int32) *RemoteNetworkPlayer {
	return &RemoteNetworkPlayer{id: id, props: properties.NewReadOnlyTable()}
}

func (p *RemoteNetworkPlayer) ID() int32                     { return p.id }
func (p *RemoteNetworkPlayer) Properties() *properties.Table { return p.props }
func (p *RemoteNetworkPlayer) IsLocal() bool                 { return false }

// LocalNetworkRoom mirrors the room this client is in. The member list is
// updated by the client's reader loop and is safe to read concurrently.
type LocalNetworkRoom struct {
	Options protocol.RoomOptions
	// Properties are shared with the other occupants.
	Properties *properties.Table
	// LobbyProperties are also published to lobby viewers.
	LobbyProperties *properties.Table

	mu      sync.RWMutex
	players map[int32]NetworkPlayer
}

func newLocalRoom(opts protocol.RoomOptions, props, lobbyProps *properties.Table) *LocalNetworkRoom {
	if props == nil {
		props = properties.NewTable()
	}
	if lobbyProps == nil {
		lobbyProps = properties.NewTable()
	}
	return &LocalNetworkRoom{
		Options:         opts,
		Properties:      props,
		LobbyProperties: lobbyProps,
		players:         make(map[int32]NetworkPlayer),
	}
}

func (r *LocalNetworkRoom) Name() string { return r.Options.Name }

func (r *LocalNetworkRoom) Player(id int32) (NetworkPlayer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[id]
	return p, ok
}

// Players returns the members ordered by id.
func (r *LocalNetworkRoom) Players() []NetworkPlayer {
	r.mu.RLock()
	out := make([]NetworkPlayer, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b NetworkPlayer) int { return cmp.Compare(a.ID(), b.ID()) })
	return out
}

func (r *LocalNetworkRoom) PlayerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

func (r *LocalNetworkRoom) setPlayer(p NetworkPlayer) {
	r.mu.Lock()
	r.players[p.ID()] = p
	r.mu.Unlock()
}

func (r *LocalNetworkRoom) removePlayer(id int32) {
	r.mu.Lock()
	delete(r.players, id)
	r.mu.Unlock()
}

// LobbyRoom is a room listed in the lobby.
type LobbyRoom struct {
	Name        string
	Visible     bool
	MaxPlayers  int
	PlayerCount int
	Properties  *properties.Table
}

func newLobbyRoom(info protocol.RoomInfo) *LobbyRoom {
	r := &LobbyRoom{Properties: properties.NewReadOnlyTable()}
	r.update(info)
	return r
}

func (r *LobbyRoom) update(info protocol.RoomInfo) {
	r.Name = info.Name
	r.Visible = info.Visible
	r.MaxPlayers = info.MaxPlayers
	r.PlayerCount = info.PlayerCount
	r.Properties = properties.NewReadOnlyTable()
	r.Properties.Apply(info.Properties)
}

// RoomParams describe a room this client asks to create.
type RoomParams struct {
	protocol.RoomOptions
	Properties      *properties.Table
	LobbyProperties *properties.Table
}
