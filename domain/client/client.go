// Package client implements the matchmaking client: a connection state
// machine, mirrors of the lobby and the current room, and the requests a
// player issues against the server.
package client

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go-matchmaking/domain/events"
	"go-matchmaking/domain/properties"
	"go-matchmaking/domain/protocol"
	"go-matchmaking/domain/wire"
	"go-matchmaking/transport"
)

var (
	ErrInvalidOperation  = errors.New("client: invalid operation in current state")
	ErrNotConnected      = errors.New("client: not connected")
	ErrProtocolViolation = errors.New("client: protocol violation")
)

type State int

const (
	Disconnected State = iota
	InLobby
	Joining
	Joined
	Leaving
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case InLobby:
		return "InLobby"
	case Joining:
		return "Joining"
	case Joined:
		return "Joined"
	case Leaving:
		return "Leaving"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Config struct {
	Logger *slog.Logger
	// JoinTimeout aborts a create or join request the server has not
	// answered in time. Zero waits until the response or a disconnect.
	JoinTimeout time.Duration
}

type StateChange struct {
	Old, New State
}

type LobbyChange struct {
	Absolute bool
	Updated  []string
	Removed  []string
}

type RoomPropertyChange struct {
	Lobby bool
	properties.Change
}

type PlayerPropertyChange struct {
	Player NetworkPlayer
	properties.Change
}

// UserData is an application payload relayed by the server. Source is one
// of UserDataFromHost, UserDataFromRoom or UserDataFromOtherClient.
type UserData struct {
	Source   protocol.MessageType
	SenderID int32
	Payload  []byte
}

// Events are emitted on the goroutine handling the triggering message,
// after the client lock is released.
type Events struct {
	StateChanged          events.Feed[StateChange]
	LobbyChanged          events.Feed[LobbyChange]
	RoomPropertyChanged   events.Feed[RoomPropertyChange]
	PlayerJoined          events.Feed[NetworkPlayer]
	PlayerLeft            events.Feed[NetworkPlayer]
	PlayerPropertyChanged events.Feed[PlayerPropertyChange]
	UserData              events.Feed[UserData]
	SyncMessage           events.Feed[[]byte]
}

type pendingRequest struct {
	typ    protocol.MessageType
	params RoomParams
	future *RoomFuture
	timer  *time.Timer
}

type Client struct {
	mu      sync.Mutex
	peer    transport.ClientPeer
	cfg     Config
	log     *slog.Logger
	state   State
	local   *LocalNetworkPlayer
	room    *LocalNetworkRoom
	lobby   map[string]*LobbyRoom
	pending *pendingRequest
	// expired is the last request abandoned by the join timeout. The server
	// answers requests in order, so the next room response belongs to it.
	expired *pendingRequest
	events  Events
}

var _ transport.ClientHandler = (*Client)(nil)

// New creates a disconnected client. peer may be nil and bound later with
// SetPeer.
func New(peer transport.ClientPeer, cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		peer:  peer,
		cfg:   cfg,
		log:   cfg.Logger,
		local: newLocalPlayer(),
		lobby: make(map[string]*LobbyRoom),
	}
}

func (c *Client) SetPeer(peer transport.ClientPeer) {
	c.mu.Lock()
	c.peer = peer
	c.mu.Unlock()
}

func (c *Client) Events() *Events { return &c.events }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) LocalPlayer() *LocalNetworkPlayer { return c.local }

// Room returns the current room mirror, or nil outside a room.
func (c *Client) Room() *LocalNetworkRoom {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Rooms returns the lobby listing ordered by name.
func (c *Client) Rooms() []LobbyRoom {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LobbyRoom, 0, len(c.lobby))
	for _, r := range c.lobby {
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b LobbyRoom) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

type deferred []func()

func (d *deferred) add(fn func()) { *d = append(*d, fn) }

func (d deferred) run() {
	for _, fn := range d {
		fn()
	}
}

func (c *Client) connectedLocked() bool {
	return c.peer != nil && c.peer.Connected()
}

// setStateLocked moves to s. Without a live connection every state but
// InLobby and Disconnected collapses to Disconnected.
func (c *Client) setStateLocked(s State, notes *deferred) {
	if s != InLobby && s != Disconnected && !c.connectedLocked() {
		s = Disconnected
	}
	if s == Disconnected {
		c.resetLocked()
	}
	if s == c.state {
		return
	}
	change := StateChange{Old: c.state, New: s}
	c.state = s
	c.log.Debug("state changed", slog.String("from", change.Old.String()), slog.String("to", change.New.String()))
	notes.add(func() { c.events.StateChanged.Emit(change) })
}

// resetLocked drops all session state and aborts the pending request.
func (c *Client) resetLocked() {
	c.local.id.Store(protocol.NoPlayer)
	c.room = nil
	clear(c.lobby)
	c.expired = nil
	c.abortPendingLocked()
}

func (c *Client) abortPendingLocked() {
	if c.pending == nil {
		return
	}
	if c.pending.timer != nil {
		c.pending.timer.Stop()
	}
	c.pending.future.resolve(protocol.Aborted)
	c.pending = nil
}

func (c *Client) requireReadyLocked(op string) error {
	if !c.connectedLocked() {
		return fmt.Errorf("%s: %w", op, ErrNotConnected)
	}
	if c.state != InLobby && c.state != Joined {
		return fmt.Errorf("%s: %w: %s", op, ErrInvalidOperation, c.state)
	}
	return nil
}

func (c *Client) sendLocked(w *wire.Writer, method transport.DeliveryMethod) error {
	if err := c.peer.Send(transport.KindData, w.Bytes(), method); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Connect dials server, sending the local player's properties as the
// handshake.
func (c *Client) Connect(ctx context.Context, server transport.Endpoint) error {
	c.mu.Lock()
	if c.peer == nil {
		c.mu.Unlock()
		return fmt.Errorf("connect: %w: no transport", ErrInvalidOperation)
	}
	if c.state != Disconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("connect: %w: %s", ErrInvalidOperation, state)
	}
	peer := c.peer
	c.mu.Unlock()

	hail := protocol.NewMessage(protocol.SetPlayerProperties)
	c.local.props.ForceFullSync()
	c.local.props.Flush(hail)

	if err := peer.Connect(ctx, server, hail.Bytes()); err != nil {
		c.local.props.ForceFullSync()
		return fmt.Errorf("connect %s: %w", server, err)
	}

	var notes deferred
	c.mu.Lock()
	c.setStateLocked(InLobby, &notes)
	c.mu.Unlock()
	notes.run()
	c.log.Info("connected", slog.String("server", server.String()))
	return nil
}

// Disconnect closes the connection and resets all session state.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()
	var err error
	if peer != nil && peer.Connected() {
		err = peer.Disconnect()
	}
	c.handleDisconnect("local disconnect")
	return err
}

// Discover lists servers on port when the transport supports discovery.
func (c *Client) Discover(ctx context.Context, port int) ([]transport.Endpoint, error) {
	c.mu.Lock()
	d, ok := c.peer.(transport.Discoverer)
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("discover: %w: transport cannot discover", ErrInvalidOperation)
	}
	return d.Discover(ctx, port)
}

func (c *Client) CreateRoomAsync(params RoomParams) (*RoomFuture, error) {
	return c.requestRoom(protocol.CreateRoomRequest, params)
}

func (c *Client) JoinRoomAsync(name string) (*RoomFuture, error) {
	return c.requestRoom(protocol.JoinRoomRequest, RoomParams{RoomOptions: protocol.RoomOptions{Name: name}})
}

// JoinOrCreateRoomAsync joins the named room, creating it with params when
// it does not exist. The properties in params are ignored by the server if
// the room already exists.
func (c *Client) JoinOrCreateRoomAsync(params RoomParams) (*RoomFuture, error) {
	return c.requestRoom(protocol.JoinOrCreateRoomRequest, params)
}

func (c *Client) requestRoom(typ protocol.MessageType, params RoomParams) (*RoomFuture, error) {
	var notes deferred
	c.mu.Lock()
	defer func() {
		c.mu.Unlock()
		notes.run()
	}()

	if !c.connectedLocked() {
		return nil, fmt.Errorf("%s: %w", typ, ErrNotConnected)
	}
	if c.state != InLobby {
		return nil, fmt.Errorf("%s: %w: %s", typ, ErrInvalidOperation, c.state)
	}
	if params.Name == "" {
		return nil, fmt.Errorf("%s: %w: empty room name", typ, ErrInvalidOperation)
	}

	w := protocol.NewMessage(typ)
	if typ == protocol.JoinRoomRequest {
		params.RoomOptions.Write(w)
		w.Bool(false)
	} else {
		if params.Properties == nil {
			params.Properties = properties.NewTable()
		}
		if params.LobbyProperties == nil {
			params.LobbyProperties = properties.NewTable()
		}
		protocol.RoomRequest{
			Options:         params.RoomOptions,
			Properties:      params.Properties.Snapshot(),
			LobbyProperties: params.LobbyProperties.Snapshot(),
		}.Write(w)
		params.Properties.FlushBytes()
		params.LobbyProperties.FlushBytes()
	}

	p := &pendingRequest{typ: typ, params: params, future: newRoomFuture()}
	c.pending = p
	c.setStateLocked(Joining, &notes)
	if err := c.sendLocked(w, transport.ReliableOrdered); err != nil {
		c.pending = nil
		p.future.resolve(protocol.Aborted)
		c.setStateLocked(InLobby, &notes)
		return nil, err
	}
	if c.cfg.JoinTimeout > 0 {
		p.timer = time.AfterFunc(c.cfg.JoinTimeout, func() { c.expire(p) })
	}
	return p.future, nil
}

// expire aborts p if it is still the outstanding request. Its response
// may still arrive; see takeExpiredLocked.
func (c *Client) expire(p *pendingRequest) {
	var notes deferred
	c.mu.Lock()
	if c.pending == p {
		c.log.Warn("room request timed out", slog.String("room", p.params.Name))
		c.pending = nil
		c.expired = p
		p.future.resolve(protocol.Aborted)
		c.setStateLocked(InLobby, &notes)
	}
	c.mu.Unlock()
	notes.run()
}

// LeaveRoom leaves the current room. The room mirror is dropped at once;
// the state returns to InLobby when the server confirms.
func (c *Client) LeaveRoom() error {
	var notes deferred
	c.mu.Lock()
	defer func() {
		c.mu.Unlock()
		notes.run()
	}()
	if err := c.requireReadyLocked("leave room"); err != nil {
		return err
	}
	if c.state != Joined {
		return fmt.Errorf("leave room: %w: %s", ErrInvalidOperation, c.state)
	}
	c.setStateLocked(Leaving, &notes)
	c.local.id.Store(protocol.NoPlayer)
	c.room = nil
	return c.sendLocked(protocol.NewMessage(protocol.LeaveRoomRequest), transport.ReliableOrdered)
}

// CreateMessage returns an empty buffer for a user data payload.
func (c *Client) CreateMessage() (*wire.Writer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireReadyLocked("create message"); err != nil {
		return nil, err
	}
	return wire.NewWriter(64), nil
}

func (c *Client) sendUserData(op string, typ protocol.MessageType, target *int32, payload []byte, method transport.DeliveryMethod) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireReadyLocked(op); err != nil {
		return err
	}
	w := protocol.NewMessage(typ)
	w.Byte(byte(method))
	if target != nil {
		w.Int32(*target)
	}
	w.Raw(payload)
	return c.sendLocked(w, method)
}

func (c *Client) SendToServer(payload []byte, method transport.DeliveryMethod) error {
	return c.sendUserData("send to server", protocol.UserDataToHost, nil, payload, method)
}

func (c *Client) SendToCurrentRoom(payload []byte, method transport.DeliveryMethod) error {
	return c.sendUserData("send to room", protocol.UserDataToRoom, nil, payload, method)
}

func (c *Client) SendToPlayer(id int32, payload []byte, method transport.DeliveryMethod) error {
	return c.sendUserData("send to player", protocol.UserDataToOtherClient, &id, payload, method)
}

// SendSync sends an entity synchronization frame. The server relays it
// to the other members of this client's room, or to the lobby.
func (c *Client) SendSync(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireReadyLocked("send sync"); err != nil {
		return err
	}
	return c.peer.Send(transport.KindSync, payload, transport.ReliableOrdered)
}

// Update flushes dirty local player and room properties.
func (c *Client) Update() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Disconnected || !c.connectedLocked() {
		return
	}
	if c.local.props.NeedsSync() {
		w := protocol.NewMessage(protocol.SetPlayerProperties)
		c.local.props.Flush(w)
		c.logSendErr(c.sendLocked(w, transport.ReliableOrdered))
	}
	if c.room == nil {
		return
	}
	if c.room.Properties.NeedsSync() {
		w := protocol.NewMessage(protocol.SetRoomProperties)
		w.Bool(false)
		c.room.Properties.Flush(w)
		c.logSendErr(c.sendLocked(w, transport.ReliableOrdered))
	}
	if c.room.LobbyProperties.NeedsSync() {
		w := protocol.NewMessage(protocol.SetRoomProperties)
		w.Bool(true)
		c.room.LobbyProperties.Flush(w)
		c.logSendErr(c.sendLocked(w, transport.ReliableOrdered))
	}
}

func (c *Client) logSendErr(err error) {
	if err != nil {
		c.log.Warn("property sync failed", slog.String("error", err.Error()))
	}
}

func (c *Client) Connected(server transport.Endpoint) {
	c.log.Debug("transport connected", slog.String("server", server.String()))
}

func (c *Client) Disconnected(reason string) {
	c.handleDisconnect(reason)
}

func (c *Client) handleDisconnect(reason string) {
	var notes deferred
	c.mu.Lock()
	if c.state != Disconnected {
		c.log.Info("disconnected", slog.String("reason", reason))
	}
	c.setStateLocked(Disconnected, &notes)
	c.mu.Unlock()
	notes.run()
}

func (c *Client) HandleMessage(kind transport.Kind, payload []byte) error {
	if kind == transport.KindSync {
		c.events.SyncMessage.Emit(payload)
		return nil
	}
	var notes deferred
	c.mu.Lock()
	err := c.dispatchLocked(wire.NewReader(payload), &notes)
	c.mu.Unlock()
	notes.run()
	if err != nil {
		c.log.Error("protocol violation", slog.String("error", err.Error()))
	}
	return err
}

func (c *Client) dispatchLocked(r *wire.Reader, notes *deferred) error {
	typ, err := protocol.ReadType(r)
	if err != nil {
		return fmt.Errorf("%w: empty message", ErrProtocolViolation)
	}
	switch typ {
	case protocol.RefreshRoomsInLobby:
		err = c.handleLobbyUpdate(r, notes)
	case protocol.RefreshRoomInLobbyProperties:
		err = c.handleLobbyRoomProperties(r, notes)
	case protocol.RefreshCurrentRoomProperties:
		err = c.handleRoomProperties(r, notes)
	case protocol.RefreshPlayersInRoom:
		err = c.handlePlayerList(r, notes)
	case protocol.RefreshLocalPlayerProperties:
		err = c.handleLocalPlayerProperties(r, notes)
	case protocol.RefreshOtherPlayerProperties:
		err = c.handleOtherPlayerProperties(r, notes)
	case protocol.JoinResponse:
		err = c.handleJoinResponse(r, notes)
	case protocol.CreateResponse:
		err = c.handleCreateResponse(r, notes)
	case protocol.LeaveResponse:
		err = c.handleLeaveResponse(r, notes)
	case protocol.UserDataFromHost:
		data := UserData{Source: typ, SenderID: protocol.NoPlayer, Payload: r.Rest()}
		notes.add(func() { c.events.UserData.Emit(data) })
	case protocol.UserDataFromRoom, protocol.UserDataFromOtherClient:
		sender := r.Int32()
		if err = r.Err(); err == nil {
			data := UserData{Source: typ, SenderID: sender, Payload: r.Rest()}
			notes.add(func() { c.events.UserData.Emit(data) })
		}
	default:
		return fmt.Errorf("%w: unexpected %s", ErrProtocolViolation, typ)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrProtocolViolation, typ, err)
	}
	return nil
}

func (c *Client) applyLobbyUpdate(u protocol.LobbyUpdate, notes *deferred) {
	if u.Absolute {
		clear(c.lobby)
	}
	change := LobbyChange{Absolute: u.Absolute, Removed: u.Removed}
	for _, info := range u.Rooms {
		if r, ok := c.lobby[info.Name]; ok {
			r.update(info)
		} else {
			c.lobby[info.Name] = newLobbyRoom(info)
		}
		change.Updated = append(change.Updated, info.Name)
	}
	for _, name := range u.Removed {
		delete(c.lobby, name)
	}
	notes.add(func() { c.events.LobbyChanged.Emit(change) })
}

func (c *Client) handleLobbyUpdate(r *wire.Reader, notes *deferred) error {
	u, err := protocol.ReadLobbyUpdate(r)
	if err != nil {
		return err
	}
	c.applyLobbyUpdate(u, notes)
	return nil
}

func (c *Client) handleLobbyRoomProperties(r *wire.Reader, notes *deferred) error {
	name := r.Text()
	delta, err := properties.ReadDelta(r)
	if err != nil {
		return err
	}
	room, ok := c.lobby[name]
	if !ok {
		return nil
	}
	room.Properties.Apply(delta)
	change := LobbyChange{Updated: []string{name}}
	notes.add(func() { c.events.LobbyChanged.Emit(change) })
	return nil
}

func (c *Client) handleRoomProperties(r *wire.Reader, notes *deferred) error {
	lobby := r.Bool()
	delta, err := properties.ReadDelta(r)
	if err != nil {
		return err
	}
	if c.room == nil {
		return nil
	}
	table := c.room.Properties
	if lobby {
		table = c.room.LobbyProperties
	}
	for _, ch := range table.Apply(delta) {
		change := RoomPropertyChange{Lobby: lobby, Change: ch}
		notes.add(func() { c.events.RoomPropertyChanged.Emit(change) })
	}
	return nil
}

// syncMembersLocked replaces the remote members of the room with entries.
func (c *Client) syncMembersLocked(entries []protocol.PlayerEntry, notes *deferred) {
	seen := make(map[int32]bool, len(entries))
	for _, e := range entries {
		seen[e.ID] = true
		if e.ID == c.local.ID() {
			continue
		}
		existing, ok := c.room.Player(e.ID)
		if ok {
			existing.Properties().Apply(e.Properties)
			continue
		}
		p := newRemotePlayer(e.ID)
		p.props.Apply(e.Properties)
		c.room.setPlayer(p)
		notes.add(func() { c.events.PlayerJoined.Emit(p) })
	}
	for _, p := range c.room.Players() {
		if !seen[p.ID()] && !p.IsLocal() {
			c.room.removePlayer(p.ID())
			notes.add(func() { c.events.PlayerLeft.Emit(p) })
		}
	}
}

func (c *Client) handlePlayerList(r *wire.Reader, notes *deferred) error {
	entries, err := protocol.ReadPlayers(r)
	if err != nil {
		return err
	}
	if c.room == nil {
		return nil
	}
	c.syncMembersLocked(entries, notes)
	return nil
}

func (c *Client) handleLocalPlayerProperties(r *wire.Reader, notes *deferred) error {
	delta, err := properties.ReadDelta(r)
	if err != nil {
		return err
	}
	for _, ch := range c.local.props.Apply(delta) {
		change := PlayerPropertyChange{Player: c.local, Change: ch}
		notes.add(func() { c.events.PlayerPropertyChanged.Emit(change) })
	}
	return nil
}

func (c *Client) handleOtherPlayerProperties(r *wire.Reader, notes *deferred) error {
	id := r.Int32()
	delta, err := properties.ReadDelta(r)
	if err != nil {
		return err
	}
	if c.room == nil {
		return nil
	}
	p, ok := c.room.Player(id)
	if !ok || p.IsLocal() {
		return nil
	}
	for _, ch := range p.Properties().Apply(delta) {
		change := PlayerPropertyChange{Player: p, Change: ch}
		notes.add(func() { c.events.PlayerPropertyChanged.Emit(change) })
	}
	return nil
}

// takePendingLocked returns the outstanding request if a response of typ
// is expected now.
func (c *Client) takePendingLocked(typ protocol.MessageType) *pendingRequest {
	p := c.pending
	if p == nil || c.state != Joining {
		c.log.Warn("ignoring unexpected room response", slog.String("type", typ.String()))
		return nil
	}
	c.pending = nil
	if p.timer != nil {
		p.timer.Stop()
	}
	return p
}

// takeExpiredLocked consumes a response meant for a request the join
// timeout already aborted. A late success is undone with a leave request so
// the server does not keep a member the caller gave up on.
func (c *Client) takeExpiredLocked(result protocol.ResultCode, notes *deferred) bool {
	p := c.expired
	if p == nil {
		return false
	}
	c.expired = nil
	if result != protocol.Succeed {
		c.log.Debug("late room response", slog.String("room", p.params.Name), slog.String("result", result.String()))
		return true
	}
	c.log.Info("leaving room joined after timeout", slog.String("room", p.params.Name))
	if c.state == InLobby {
		c.setStateLocked(Leaving, notes)
	}
	if err := c.sendLocked(protocol.NewMessage(protocol.LeaveRoomRequest), transport.ReliableOrdered); err != nil {
		c.log.Warn("leave after timeout failed", slog.String("error", err.Error()))
	}
	return true
}

func (c *Client) finishRequestLocked(p *pendingRequest, result protocol.ResultCode, notes *deferred) {
	if result == protocol.Succeed {
		c.setStateLocked(Joined, notes)
	} else {
		c.setStateLocked(InLobby, notes)
	}
	if c.state != Joined && result == protocol.Succeed {
		result = protocol.Aborted
	}
	p.future.resolve(result)
}

func (c *Client) handleJoinResponse(r *wire.Reader, notes *deferred) error {
	result := protocol.ResultCode(r.Byte())
	if err := r.Err(); err != nil {
		return err
	}
	var snap protocol.RoomSnapshot
	if result == protocol.Succeed {
		var err error
		if snap, err = protocol.ReadRoomSnapshot(r); err != nil {
			return err
		}
	}
	if c.takeExpiredLocked(result, notes) {
		return nil
	}
	p := c.takePendingLocked(protocol.JoinResponse)
	if p == nil {
		return nil
	}
	if result == protocol.Succeed {
		props := properties.NewTable()
		props.Apply(snap.Properties)
		lobbyProps := properties.NewTable()
		lobbyProps.Apply(snap.LobbyProperties)
		c.local.id.Store(snap.LocalPlayerID)
		c.room = newLocalRoom(snap.Options, props, lobbyProps)
		c.room.setPlayer(c.local)
		c.syncMembersLocked(snap.Players, notes)
	}
	c.finishRequestLocked(p, result, notes)
	return nil
}

func (c *Client) handleCreateResponse(r *wire.Reader, notes *deferred) error {
	result := protocol.ResultCode(r.Byte())
	if err := r.Err(); err != nil {
		return err
	}
	id := protocol.NoPlayer
	var opts protocol.RoomOptions
	if result == protocol.Succeed {
		id = r.Int32()
		var err error
		if opts, err = protocol.ReadRoomOptions(r); err != nil {
			return err
		}
	}
	if c.takeExpiredLocked(result, notes) {
		return nil
	}
	p := c.takePendingLocked(protocol.CreateResponse)
	if p == nil {
		return nil
	}
	if result == protocol.Succeed {
		// The server may have clamped the requested options.
		c.local.id.Store(id)
		c.room = newLocalRoom(opts, p.params.Properties, p.params.LobbyProperties)
		c.room.setPlayer(c.local)
	}
	c.finishRequestLocked(p, result, notes)
	return nil
}

func (c *Client) handleLeaveResponse(r *wire.Reader, notes *deferred) error {
	u, err := protocol.ReadLobbyUpdate(r)
	if err != nil {
		return err
	}
	c.applyLobbyUpdate(u, notes)
	if c.state == Leaving {
		c.setStateLocked(InLobby, notes)
	}
	return nil
}
