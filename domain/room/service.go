package room

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"go-matchmaking/domain/events"
	"go-matchmaking/domain/properties"
	"go-matchmaking/domain/protocol"
	"go-matchmaking/domain/wire"
	"go-matchmaking/transport"
)

var (
	ErrDuplicateEndpoint = errors.New("room: endpoint already connected")
	ErrInvalidHandshake  = errors.New("room: handshake is not a player properties message")
	ErrProtocolViolation = errors.New("room: protocol violation")
	ErrUnknownPlayer     = errors.New("room: unknown player")
	ErrUnknownRoom       = errors.New("room: unknown room")
)

// Service is the authoritative matchmaking registry. It is driven by a
// transport.ServerPeer through the ServerHandler methods and by a tick
// loop calling Update.
type Service interface {
	transport.ServerHandler

	// Update flushes dirty player and room properties.
	Update()
	LobbySnapshot() []protocol.RoomInfo
	Rooms() []*ServerRoom
	Players() []*ServerPlayer
	Room(name string) (*ServerRoom, bool)
	SendToPlayer(id int32, payload []byte, method transport.DeliveryMethod) error
	SendToRoom(name string, payload []byte, method transport.DeliveryMethod) error
	Events() *Events
}

// JoinApprover may veto a player joining an existing room. It runs while
// the service is locked and must not call back into it.
type JoinApprover func(room *ServerRoom, player *ServerPlayer) bool

type Config struct {
	// DefaultMaxPlayers is used when a request asks for no capacity.
	DefaultMaxPlayers int
	MaxRoomNameLength int
	Logger            *slog.Logger
	JoinApprover      JoinApprover
	// UserDataHandler receives UserDataToHost payloads.
	UserDataHandler func(player *ServerPlayer, payload []byte)
	// SyncHandler receives entity synchronization frames after they were
	// relayed to the sender's peers.
	SyncHandler func(player *ServerPlayer, payload []byte)
}

func (c *Config) setDefaults() {
	if c.DefaultMaxPlayers <= 0 {
		c.DefaultMaxPlayers = 8
	}
	if c.MaxRoomNameLength <= 0 {
		c.MaxRoomNameLength = 64
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type RoomEvent struct {
	Room   *ServerRoom
	Player *ServerPlayer
}

// Events are emitted after the service lock is released, before the
// triggering message handler returns.
type Events struct {
	PlayerConnected    events.Feed[*ServerPlayer]
	PlayerDisconnected events.Feed[*ServerPlayer]
	RoomCreated        events.Feed[*ServerRoom]
	RoomRemoved        events.Feed[*ServerRoom]
	PlayerJoinedRoom   events.Feed[RoomEvent]
	PlayerLeftRoom     events.Feed[RoomEvent]
}

type InMemoryService struct {
	mu      sync.Mutex
	peer    transport.ServerPeer
	cfg     Config
	log     *slog.Logger
	players map[transport.Endpoint]*ServerPlayer
	rooms   map[string]*ServerRoom
	events  Events
}

var _ Service = (*InMemoryService)(nil)

func NewInMemoryService(peer transport.ServerPeer, cfg Config) *InMemoryService {
	cfg.setDefaults()
	return &InMemoryService{
		peer:    peer,
		cfg:     cfg,
		log:     cfg.Logger,
		players: make(map[transport.Endpoint]*ServerPlayer),
		rooms:   make(map[string]*ServerRoom),
	}
}

// SetPeer binds the transport. Transports that need their handler at
// construction time create the service first.
func (s *InMemoryService) SetPeer(peer transport.ServerPeer) {
	s.mu.Lock()
	s.peer = peer
	s.mu.Unlock()
}

func (s *InMemoryService) Events() *Events { return &s.events }

// deferred collects notifications raised while locked.
type deferred []func()

func (d *deferred) add(fn func()) { *d = append(*d, fn) }

func (d deferred) run() {
	for _, fn := range d {
		fn()
	}
}

func (s *InMemoryService) send(to *ServerPlayer, w *wire.Writer, method transport.DeliveryMethod) {
	if err := s.peer.Send(to.Endpoint, transport.KindData, w.Bytes(), method); err != nil {
		s.log.Warn("send failed",
			slog.String("player", to.Endpoint.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *InMemoryService) sendAll(players []*ServerPlayer, except *ServerPlayer, w *wire.Writer, method transport.DeliveryMethod) {
	for _, p := range players {
		if p != except {
			s.send(p, w, method)
		}
	}
}

// lobbyPlayers returns the players not inside a room.
func (s *InMemoryService) lobbyPlayers() []*ServerPlayer {
	var out []*ServerPlayer
	for _, p := range s.players {
		if p.Room() == nil {
			out = append(out, p)
		}
	}
	return out
}

func (s *InMemoryService) lobbySnapshotLocked() []protocol.RoomInfo {
	infos := make([]protocol.RoomInfo, 0, len(s.rooms))
	for _, r := range s.rooms {
		if r.Visible {
			infos = append(infos, r.Info())
		}
	}
	slices.SortFunc(infos, func(a, b protocol.RoomInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos
}

// broadcastLobby sends an incremental lobby update to lobby viewers.
func (s *InMemoryService) broadcastLobby(update protocol.LobbyUpdate, except *ServerPlayer) {
	w := protocol.NewMessage(protocol.RefreshRoomsInLobby)
	update.Write(w)
	s.sendAll(s.lobbyPlayers(), except, w, transport.ReliableOrdered)
}

func (s *InMemoryService) ApproveConnection(ep transport.Endpoint, hail []byte) error {
	r := wire.NewReader(hail)
	typ, err := protocol.ReadType(r)
	if err != nil || typ != protocol.SetPlayerProperties {
		return ErrInvalidHandshake
	}
	delta, err := properties.ReadDelta(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[ep]; ok {
		s.log.Warn("rejecting duplicate connection", slog.String("player", ep.String()))
		return ErrDuplicateEndpoint
	}
	p := newServerPlayer(ep)
	for _, other := range s.players {
		if other.ID == p.ID {
			s.log.Warn("rejecting connection with colliding player id",
				slog.String("player", ep.String()),
				slog.String("other", other.Endpoint.String()),
			)
			return ErrDuplicateEndpoint
		}
	}
	p.Properties.Apply(delta)
	s.players[ep] = p
	s.log.Info("player approved", slog.String("player", ep.String()), slog.Int("id", int(p.ID)))
	return nil
}

func (s *InMemoryService) Connected(ep transport.Endpoint) {
	s.mu.Lock()
	p, ok := s.players[ep]
	if !ok {
		s.mu.Unlock()
		s.log.Warn("connected event for unknown player", slog.String("player", ep.String()))
		return
	}
	w := protocol.NewMessage(protocol.RefreshRoomsInLobby)
	protocol.LobbyUpdate{Absolute: true, Rooms: s.lobbySnapshotLocked()}.Write(w)
	s.send(p, w, transport.ReliableOrdered)
	s.mu.Unlock()

	s.log.Info("player connected", slog.String("player", ep.String()))
	s.events.PlayerConnected.Emit(p)
}

func (s *InMemoryService) Disconnected(ep transport.Endpoint) {
	var notes deferred
	s.mu.Lock()
	p, ok := s.players[ep]
	if !ok {
		s.mu.Unlock()
		return
	}
	if p.Room() != nil {
		s.removeFromRoom(p, &notes)
	}
	delete(s.players, ep)
	s.mu.Unlock()

	notes.run()
	s.log.Info("player disconnected", slog.String("player", ep.String()))
	s.events.PlayerDisconnected.Emit(p)
}

func (s *InMemoryService) HandleMessage(ep transport.Endpoint, kind transport.Kind, payload []byte) error {
	var notes deferred
	s.mu.Lock()
	p, ok := s.players[ep]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	var err error
	if kind == transport.KindSync {
		s.relaySync(p, payload, &notes)
	} else {
		err = s.dispatch(p, wire.NewReader(payload), &notes)
	}
	s.mu.Unlock()

	notes.run()
	if err != nil {
		s.log.Error("protocol violation",
			slog.String("player", ep.String()),
			slog.String("error", err.Error()),
		)
	}
	return err
}

func (s *InMemoryService) dispatch(p *ServerPlayer, r *wire.Reader, notes *deferred) error {
	typ, err := protocol.ReadType(r)
	if err != nil {
		return fmt.Errorf("%w: empty message", ErrProtocolViolation)
	}
	switch typ {
	case protocol.SetPlayerProperties:
		err = s.handleSetPlayerProperties(p, r)
	case protocol.SetRoomProperties:
		err = s.handleSetRoomProperties(p, r)
	case protocol.CreateRoomRequest:
		err = s.handleCreateRoom(p, r, notes)
	case protocol.JoinRoomRequest:
		var opts protocol.RoomOptions
		if opts, err = protocol.ReadRoomOptions(r); err == nil {
			create := r.Bool()
			if err = r.Err(); err == nil {
				s.joinRoom(p, protocol.RoomRequest{Options: opts}, create, notes)
			}
		}
	case protocol.JoinOrCreateRoomRequest:
		err = s.handleJoinOrCreateRoom(p, r, notes)
	case protocol.LeaveRoomRequest:
		s.handleLeaveRoom(p, notes)
	case protocol.UserDataToHost:
		err = s.handleUserDataToHost(p, r, notes)
	case protocol.UserDataToRoom:
		err = s.handleUserDataToRoom(p, r)
	case protocol.UserDataToOtherClient:
		err = s.handleUserDataToOtherClient(p, r)
	default:
		return fmt.Errorf("%w: unexpected %s", ErrProtocolViolation, typ)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrProtocolViolation, typ, err)
	}
	return nil
}

func (s *InMemoryService) handleSetPlayerProperties(p *ServerPlayer, r *wire.Reader) error {
	delta, err := properties.ReadDelta(r)
	if err != nil {
		return err
	}
	p.Properties.Apply(delta)
	if p.Room() != nil {
		w := protocol.NewMessage(protocol.RefreshOtherPlayerProperties)
		w.Int32(p.ID)
		delta.Write(w)
		s.sendAll(p.Room().players, p, w, transport.ReliableOrdered)
	}
	return nil
}

func (s *InMemoryService) handleSetRoomProperties(p *ServerPlayer, r *wire.Reader) error {
	lobby := r.Bool()
	delta, err := properties.ReadDelta(r)
	if err != nil {
		return err
	}
	room := p.Room()
	if room == nil {
		return nil
	}

	w := protocol.NewMessage(protocol.RefreshCurrentRoomProperties)
	w.Bool(lobby)
	delta.Write(w)
	if !lobby {
		room.Properties.Apply(delta)
		s.sendAll(room.players, p, w, transport.ReliableOrdered)
		return nil
	}
	room.LobbyProperties.Apply(delta)
	s.sendAll(room.players, p, w, transport.ReliableOrdered)
	if room.Visible {
		lw := protocol.NewMessage(protocol.RefreshRoomInLobbyProperties)
		lw.Text(room.Name)
		delta.Write(lw)
		s.sendAll(s.lobbyPlayers(), nil, lw, transport.ReliableOrdered)
	}
	return nil
}

func (s *InMemoryService) validName(name string) bool {
	return name != "" && len(name) <= s.cfg.MaxRoomNameLength
}

func (s *InMemoryService) handleCreateRoom(p *ServerPlayer, r *wire.Reader, notes *deferred) error {
	req, err := protocol.ReadRoomRequest(r)
	if err != nil {
		return err
	}
	opts := req.Options
	result := protocol.Succeed
	var room *ServerRoom
	switch {
	case p.Room() != nil || !s.validName(opts.Name):
		result = protocol.Rejected
	case s.rooms[opts.Name] != nil:
		result = protocol.RoomAlreadyExists
	default:
		room = s.createRoom(p, req, notes)
	}

	// On success the response carries the id and the options the room was
	// actually created with.
	w := protocol.NewMessage(protocol.CreateResponse)
	w.Byte(byte(result))
	if result == protocol.Succeed {
		w.Int32(p.ID)
		room.Options().Write(w)
	}
	s.send(p, w, transport.ReliableOrdered)
	s.log.Info("create room",
		slog.String("room", opts.Name),
		slog.String("player", p.Endpoint.String()),
		slog.String("result", result.String()),
	)
	return nil
}

func (s *InMemoryService) handleJoinOrCreateRoom(p *ServerPlayer, r *wire.Reader, notes *deferred) error {
	req, err := protocol.ReadRoomRequest(r)
	if err != nil {
		return err
	}
	s.joinRoom(p, req, true, notes)
	return nil
}

// createRoom registers a room with p as its only occupant.
func (s *InMemoryService) createRoom(p *ServerPlayer, req protocol.RoomRequest, notes *deferred) *ServerRoom {
	opts := req.Options
	if opts.MaxPlayers <= 0 {
		opts.MaxPlayers = s.cfg.DefaultMaxPlayers
	}
	room := newServerRoom(opts)
	room.Properties.Apply(req.Properties)
	room.LobbyProperties.Apply(req.LobbyProperties)
	room.add(p)
	s.rooms[room.Name] = room
	if room.Visible {
		s.broadcastLobby(protocol.LobbyUpdate{Rooms: []protocol.RoomInfo{room.Info()}}, p)
	}
	notes.add(func() {
		s.events.RoomCreated.Emit(room)
		s.events.PlayerJoinedRoom.Emit(RoomEvent{Room: room, Player: p})
	})
	return room
}

// joinRoom answers with a JoinResponse. The request properties are only
// used when the room has to be created; an existing room keeps its own.
func (s *InMemoryService) joinRoom(p *ServerPlayer, req protocol.RoomRequest, create bool, notes *deferred) {
	opts := req.Options
	respond := func(result protocol.ResultCode, room *ServerRoom) {
		w := protocol.NewMessage(protocol.JoinResponse)
		w.Byte(byte(result))
		if result == protocol.Succeed {
			room.snapshotFor(p).Write(w)
		}
		s.send(p, w, transport.ReliableOrdered)
		s.log.Info("join room",
			slog.String("room", opts.Name),
			slog.String("player", p.Endpoint.String()),
			slog.String("result", result.String()),
		)
	}

	if p.Room() != nil || !s.validName(opts.Name) {
		respond(protocol.Rejected, nil)
		return
	}
	room, ok := s.rooms[opts.Name]
	if !ok {
		if !create {
			respond(protocol.RoomNotExists, nil)
			return
		}
		room = s.createRoom(p, req, notes)
		respond(protocol.Succeed, room)
		return
	}
	if room.IsFull() {
		respond(protocol.RoomIsFull, nil)
		return
	}
	if s.cfg.JoinApprover != nil && !s.cfg.JoinApprover(room, p) {
		respond(protocol.Rejected, nil)
		return
	}

	room.add(p)
	respond(protocol.Succeed, room)
	s.sendPlayerList(room, p)
	if room.Visible {
		s.broadcastLobby(protocol.LobbyUpdate{Rooms: []protocol.RoomInfo{room.Info()}}, nil)
	}
	notes.add(func() { s.events.PlayerJoinedRoom.Emit(RoomEvent{Room: room, Player: p}) })
}

// sendPlayerList sends the full member list to every occupant but except.
func (s *InMemoryService) sendPlayerList(room *ServerRoom, except *ServerPlayer) {
	w := protocol.NewMessage(protocol.RefreshPlayersInRoom)
	protocol.WritePlayers(w, room.playerEntries())
	s.sendAll(room.players, except, w, transport.ReliableOrdered)
}

func (s *InMemoryService) handleLeaveRoom(p *ServerPlayer, notes *deferred) {
	if p.Room() != nil {
		s.removeFromRoom(p, notes)
	}
	w := protocol.NewMessage(protocol.LeaveResponse)
	protocol.LobbyUpdate{Absolute: true, Rooms: s.lobbySnapshotLocked()}.Write(w)
	s.send(p, w, transport.ReliableOrdered)
}

// removeFromRoom takes p out of its room and removes the room once empty.
// p itself is not sent any lobby update.
func (s *InMemoryService) removeFromRoom(p *ServerPlayer, notes *deferred) {
	room := p.Room()
	if !room.remove(p) {
		return
	}
	notes.add(func() { s.events.PlayerLeftRoom.Emit(RoomEvent{Room: room, Player: p}) })

	if room.Empty() {
		delete(s.rooms, room.Name)
		if room.Visible {
			s.broadcastLobby(protocol.LobbyUpdate{Removed: []string{room.Name}}, p)
		}
		s.log.Info("room removed", slog.String("room", room.Name))
		notes.add(func() { s.events.RoomRemoved.Emit(room) })
		return
	}
	s.sendPlayerList(room, nil)
	if room.Visible {
		s.broadcastLobby(protocol.LobbyUpdate{Rooms: []protocol.RoomInfo{room.Info()}}, p)
	}
}

func readMethod(r *wire.Reader) (transport.DeliveryMethod, error) {
	m := transport.DeliveryMethod(r.Byte())
	if err := r.Err(); err != nil {
		return 0, err
	}
	if m > transport.ReliableOrdered {
		return 0, fmt.Errorf("invalid delivery method %d", m)
	}
	return m, nil
}

func (s *InMemoryService) handleUserDataToHost(p *ServerPlayer, r *wire.Reader, notes *deferred) error {
	if _, err := readMethod(r); err != nil {
		return err
	}
	payload := r.Rest()
	if h := s.cfg.UserDataHandler; h != nil {
		notes.add(func() { h(p, payload) })
	}
	return nil
}

func (s *InMemoryService) handleUserDataToRoom(p *ServerPlayer, r *wire.Reader) error {
	method, err := readMethod(r)
	if err != nil {
		return err
	}
	payload := r.Rest()
	if p.Room() == nil {
		return nil
	}
	w := protocol.NewMessage(protocol.UserDataFromRoom)
	w.Int32(p.ID)
	w.Raw(payload)
	s.sendAll(p.Room().players, p, w, method)
	return nil
}

func (s *InMemoryService) handleUserDataToOtherClient(p *ServerPlayer, r *wire.Reader) error {
	method, err := readMethod(r)
	if err != nil {
		return err
	}
	target := r.Int32()
	if err := r.Err(); err != nil {
		return err
	}
	payload := r.Rest()
	if p.Room() == nil {
		return nil
	}
	to, ok := p.Room().Player(target)
	if !ok {
		s.log.Debug("user data for unknown room member",
			slog.String("room", p.Room().Name),
			slog.Int("target", int(target)),
		)
		return nil
	}
	w := protocol.NewMessage(protocol.UserDataFromOtherClient)
	w.Int32(p.ID)
	w.Raw(payload)
	s.send(to, w, method)
	return nil
}

// relaySync forwards an entity synchronization frame to the sender's room,
// or to the other lobby players when the sender is not in a room.
func (s *InMemoryService) relaySync(p *ServerPlayer, payload []byte, notes *deferred) {
	peers := s.lobbyPlayers()
	if p.Room() != nil {
		peers = p.Room().players
	}
	for _, other := range peers {
		if other == p {
			continue
		}
		if err := s.peer.Send(other.Endpoint, transport.KindSync, payload, transport.ReliableOrdered); err != nil {
			s.log.Warn("sync relay failed",
				slog.String("player", other.Endpoint.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if h := s.cfg.SyncHandler; h != nil {
		data := append([]byte(nil), payload...)
		notes.add(func() { h(p, data) })
	}
}

func (s *InMemoryService) Update() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.players {
		if !p.Properties.NeedsSync() {
			continue
		}
		delta := p.Properties.FlushBytes()
		w := protocol.NewMessage(protocol.RefreshLocalPlayerProperties)
		w.Raw(delta)
		s.send(p, w, transport.ReliableOrdered)
		if p.Room() != nil {
			ow := protocol.NewMessage(protocol.RefreshOtherPlayerProperties)
			ow.Int32(p.ID)
			ow.Raw(delta)
			s.sendAll(p.Room().players, p, ow, transport.ReliableOrdered)
		}
	}

	for _, room := range s.rooms {
		if room.Properties.NeedsSync() {
			w := protocol.NewMessage(protocol.RefreshCurrentRoomProperties)
			w.Bool(false)
			room.Properties.Flush(w)
			s.sendAll(room.players, nil, w, transport.ReliableOrdered)
		}
		if room.LobbyProperties.NeedsSync() {
			delta := room.LobbyProperties.FlushBytes()
			w := protocol.NewMessage(protocol.RefreshCurrentRoomProperties)
			w.Bool(true)
			w.Raw(delta)
			s.sendAll(room.players, nil, w, transport.ReliableOrdered)
			if room.Visible {
				lw := protocol.NewMessage(protocol.RefreshRoomInLobbyProperties)
				lw.Text(room.Name)
				lw.Raw(delta)
				s.sendAll(s.lobbyPlayers(), nil, lw, transport.ReliableOrdered)
			}
		}
	}
}

func (s *InMemoryService) LobbySnapshot() []protocol.RoomInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lobbySnapshotLocked()
}

func (s *InMemoryService) Rooms() []*ServerRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]*ServerRoom, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	slices.SortFunc(rooms, func(a, b *ServerRoom) int { return strings.Compare(a.Name, b.Name) })
	return rooms
}

func (s *InMemoryService) Players() []*ServerPlayer {
	s.mu.Lock()
	defer s.mu.Unlock()
	players := make([]*ServerPlayer, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, p)
	}
	slices.SortFunc(players, func(a, b *ServerPlayer) int { return cmp.Compare(a.ID, b.ID) })
	return players
}

func (s *InMemoryService) Room(name string) (*ServerRoom, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[name]
	return r, ok
}

func (s *InMemoryService) playerByID(id int32) (*ServerPlayer, bool) {
	for _, p := range s.players {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// SendToPlayer sends payload to one player as UserDataFromHost.
func (s *InMemoryService) SendToPlayer(id int32, payload []byte, method transport.DeliveryMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.playerByID(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPlayer, id)
	}
	w := protocol.NewMessage(protocol.UserDataFromHost)
	w.Raw(payload)
	return s.peer.Send(p.Endpoint, transport.KindData, w.Bytes(), method)
}

// SendToRoom sends payload to every occupant of the named room as
// UserDataFromHost.
func (s *InMemoryService) SendToRoom(name string, payload []byte, method transport.DeliveryMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRoom, name)
	}
	w := protocol.NewMessage(protocol.UserDataFromHost)
	w.Raw(payload)
	s.sendAll(room.players, nil, w, method)
	return nil
}
