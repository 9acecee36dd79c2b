package room_test

import (
	"errors"
	"sync"
	"testing"

	"go-matchmaking/domain/properties"
	"go-matchmaking/domain/protocol"
	"go-matchmaking/domain/room"
	"go-matchmaking/domain/wire"
	"go-matchmaking/transport"
)

type frame struct {
	kind    transport.Kind
	payload []byte
	method  transport.DeliveryMethod
}

func (f frame) typ() protocol.MessageType {
	return protocol.MessageType(f.payload[0])
}

func (f frame) body() *wire.Reader {
	return wire.NewReader(f.payload[1:])
}

type fakePeer struct {
	mu   sync.Mutex
	sent map[transport.Endpoint][]frame
}

func newFakePeer() *fakePeer {
	return &fakePeer{sent: make(map[transport.Endpoint][]frame)}
}

func (f *fakePeer) Send(to transport.Endpoint, kind transport.Kind, payload []byte, method transport.DeliveryMethod) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[to] = append(f.sent[to], frame{kind: kind, payload: append([]byte(nil), payload...), method: method})
	return nil
}

func (f *fakePeer) Disconnect(transport.Endpoint, string) error { return nil }

// take returns and forgets the frames sent to ep.
func (f *fakePeer) take(ep transport.Endpoint) []frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	frames := f.sent[ep]
	delete(f.sent, ep)
	return frames
}

func types(frames []frame) []protocol.MessageType {
	out := make([]protocol.MessageType, 0, len(frames))
	for _, fr := range frames {
		out = append(out, fr.typ())
	}
	return out
}

func hail(t *testing.T, name string) []byte {
	t.Helper()
	props := properties.NewTable()
	if err := properties.Set(props, 1, name); err != nil {
		t.Fatal(err)
	}
	w := protocol.NewMessage(protocol.SetPlayerProperties)
	props.WriteFull(w)
	return w.Bytes()
}

func endpoint(n int) transport.Endpoint {
	return transport.Endpoint{Address: "10.0.0.1", Port: 5000 + n}
}

func connect(t *testing.T, svc *room.InMemoryService, peer *fakePeer, n int) transport.Endpoint {
	t.Helper()
	ep := endpoint(n)
	if err := svc.ApproveConnection(ep, hail(t, "player")); err != nil {
		t.Fatalf("ApproveConnection(%s): %v", ep, err)
	}
	svc.Connected(ep)
	peer.take(ep)
	return ep
}

func createRequest(name string, max int, visible bool) []byte {
	w := protocol.NewMessage(protocol.CreateRoomRequest)
	protocol.RoomRequest{Options: protocol.RoomOptions{Name: name, MaxPlayers: max, Visible: visible}}.Write(w)
	return w.Bytes()
}

func joinRequest(name string, create bool) []byte {
	w := protocol.NewMessage(protocol.JoinRoomRequest)
	protocol.RoomOptions{Name: name, MaxPlayers: 2, Visible: true}.Write(w)
	w.Bool(create)
	return w.Bytes()
}

func leaveRequest() []byte {
	return protocol.NewMessage(protocol.LeaveRoomRequest).Bytes()
}

func handle(t *testing.T, svc *room.InMemoryService, ep transport.Endpoint, payload []byte) {
	t.Helper()
	if err := svc.HandleMessage(ep, transport.KindData, payload); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
}

// lastResult finds the last response of type typ and returns its result code.
func lastResult(t *testing.T, frames []frame, typ protocol.MessageType) protocol.ResultCode {
	t.Helper()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].typ() == typ {
			return protocol.ResultCode(frames[i].payload[1])
		}
	}
	t.Fatalf("no %s in %v", typ, types(frames))
	return 0
}

func newService(cfg room.Config) (*room.InMemoryService, *fakePeer) {
	peer := newFakePeer()
	return room.NewInMemoryService(peer, cfg), peer
}

func TestCreateRoomTwice(t *testing.T) {
	svc, peer := newService(room.Config{})
	a := connect(t, svc, peer, 1)
	b := connect(t, svc, peer, 2)

	handle(t, svc, a, createRequest("arena", 4, true))
	if got := lastResult(t, peer.take(a), protocol.CreateResponse); got != protocol.Succeed {
		t.Fatalf("first create = %s", got)
	}
	handle(t, svc, b, createRequest("arena", 4, true))
	if got := lastResult(t, peer.take(b), protocol.CreateResponse); got != protocol.RoomAlreadyExists {
		t.Errorf("second create = %s, want RoomAlreadyExists", got)
	}
}

func TestCreateRoomBroadcastsToLobby(t *testing.T) {
	svc, peer := newService(room.Config{})
	a := connect(t, svc, peer, 1)
	b := connect(t, svc, peer, 2)

	handle(t, svc, a, createRequest("hidden", 4, false))
	if frames := peer.take(b); len(frames) != 0 {
		t.Errorf("lobby saw invisible room: %v", types(frames))
	}

	handle(t, svc, a, leaveRequest())
	peer.take(a)
	handle(t, svc, a, createRequest("shown", 4, true))
	frames := peer.take(b)
	if len(frames) != 1 || frames[0].typ() != protocol.RefreshRoomsInLobby {
		t.Fatalf("lobby frames = %v", types(frames))
	}
	update, err := protocol.ReadLobbyUpdate(frames[0].body())
	if err != nil {
		t.Fatal(err)
	}
	if update.Absolute || len(update.Rooms) != 1 || update.Rooms[0].Name != "shown" || update.Rooms[0].PlayerCount != 1 {
		t.Errorf("lobby update = %+v", update)
	}
}

func TestJoinRoomResults(t *testing.T) {
	svc, peer := newService(room.Config{})
	a := connect(t, svc, peer, 1)
	b := connect(t, svc, peer, 2)
	c := connect(t, svc, peer, 3)

	handle(t, svc, b, joinRequest("missing", false))
	if got := lastResult(t, peer.take(b), protocol.JoinResponse); got != protocol.RoomNotExists {
		t.Errorf("join missing = %s, want RoomNotExists", got)
	}

	handle(t, svc, a, createRequest("duel", 2, true))
	peer.take(a)

	handle(t, svc, b, joinRequest("duel", false))
	frames := peer.take(b)
	if got := lastResult(t, frames, protocol.JoinResponse); got != protocol.Succeed {
		t.Fatalf("join = %s", got)
	}
	r := frames[len(frames)-1].body()
	r.Byte()
	snap, err := protocol.ReadRoomSnapshot(r)
	if err != nil {
		t.Fatal(err)
	}
	if snap.LocalPlayerID != b.Key() || len(snap.Players) != 2 || snap.Options.MaxPlayers != 2 {
		t.Errorf("snapshot = %+v", snap)
	}

	aFrames := peer.take(a)
	if len(aFrames) != 1 || aFrames[0].typ() != protocol.RefreshPlayersInRoom {
		t.Fatalf("occupant frames = %v", types(aFrames))
	}
	players, err := protocol.ReadPlayers(aFrames[0].body())
	if err != nil || len(players) != 2 {
		t.Errorf("player list = %+v, %v", players, err)
	}

	handle(t, svc, c, joinRequest("duel", false))
	if got := lastResult(t, peer.take(c), protocol.JoinResponse); got != protocol.RoomIsFull {
		t.Errorf("join full = %s, want RoomIsFull", got)
	}
	if got, _ := svc.Room("duel"); got.PlayerCount() != 2 {
		t.Errorf("occupancy = %d", got.PlayerCount())
	}
}

func TestJoinCreateIfNotExists(t *testing.T) {
	svc, peer := newService(room.Config{})
	a := connect(t, svc, peer, 1)

	handle(t, svc, a, joinRequest("fresh", true))
	if got := lastResult(t, peer.take(a), protocol.JoinResponse); got != protocol.Succeed {
		t.Fatalf("join-create = %s", got)
	}
	r, ok := svc.Room("fresh")
	if !ok || r.PlayerCount() != 1 {
		t.Fatalf("room not created: %v %v", r, ok)
	}
}

func TestJoinOrCreateKeepsExistingProperties(t *testing.T) {
	svc, peer := newService(room.Config{})
	a := connect(t, svc, peer, 1)
	b := connect(t, svc, peer, 2)

	request := func(mode string) []byte {
		props := properties.NewTable()
		_ = properties.Set(props, 1, mode)
		w := protocol.NewMessage(protocol.JoinOrCreateRoomRequest)
		protocol.RoomRequest{
			Options:    protocol.RoomOptions{Name: "shared", MaxPlayers: 4, Visible: true},
			Properties: props.Snapshot(),
		}.Write(w)
		return w.Bytes()
	}

	handle(t, svc, a, request("ctf"))
	handle(t, svc, b, request("dm"))
	if got := lastResult(t, peer.take(b), protocol.JoinResponse); got != protocol.Succeed {
		t.Fatalf("join-or-create = %s", got)
	}
	r, _ := svc.Room("shared")
	if mode, _ := properties.Get[string](r.Properties, 1); mode != "ctf" {
		t.Errorf("room mode = %q, want ctf", mode)
	}
}

func TestJoinApproverVeto(t *testing.T) {
	svc, peer := newService(room.Config{
		JoinApprover: func(*room.ServerRoom, *room.ServerPlayer) bool { return false },
	})
	a := connect(t, svc, peer, 1)
	b := connect(t, svc, peer, 2)

	handle(t, svc, a, createRequest("closed", 4, true))
	handle(t, svc, b, joinRequest("closed", false))
	if got := lastResult(t, peer.take(b), protocol.JoinResponse); got != protocol.Rejected {
		t.Errorf("vetoed join = %s, want Rejected", got)
	}
}

func TestLeaveRemovesEmptyRoom(t *testing.T) {
	svc, peer := newService(room.Config{})
	a := connect(t, svc, peer, 1)
	lobby := connect(t, svc, peer, 2)

	var removed []string
	svc.Events().RoomRemoved.Subscribe(func(r *room.ServerRoom) { removed = append(removed, r.Name) })

	handle(t, svc, a, createRequest("match1", 2, true))
	peer.take(a)
	peer.take(lobby)

	handle(t, svc, a, leaveRequest())
	if _, ok := svc.Room("match1"); ok {
		t.Error("empty room still registered")
	}
	if len(removed) != 1 || removed[0] != "match1" {
		t.Errorf("RoomRemoved events = %v", removed)
	}

	frames := peer.take(lobby)
	if len(frames) != 1 {
		t.Fatalf("lobby frames = %v", types(frames))
	}
	update, _ := protocol.ReadLobbyUpdate(frames[0].body())
	if len(update.Removed) != 1 || update.Removed[0] != "match1" {
		t.Errorf("lobby update = %+v", update)
	}

	leaver := peer.take(a)
	if len(leaver) != 1 || leaver[0].typ() != protocol.LeaveResponse {
		t.Fatalf("leaver frames = %v", types(leaver))
	}
	snapshot, _ := protocol.ReadLobbyUpdate(leaver[0].body())
	if !snapshot.Absolute || len(snapshot.Rooms) != 0 {
		t.Errorf("leave snapshot = %+v", snapshot)
	}
}

func TestLeaveUpdatesRemainingOccupants(t *testing.T) {
	svc, peer := newService(room.Config{})
	a := connect(t, svc, peer, 1)
	b := connect(t, svc, peer, 2)

	handle(t, svc, a, createRequest("pair", 2, true))
	handle(t, svc, b, joinRequest("pair", false))
	peer.take(a)
	peer.take(b)

	svc.Disconnected(b)
	frames := peer.take(a)
	if len(frames) != 1 || frames[0].typ() != protocol.RefreshPlayersInRoom {
		t.Fatalf("frames = %v", types(frames))
	}
	players, _ := protocol.ReadPlayers(frames[0].body())
	if len(players) != 1 || players[0].ID != a.Key() {
		t.Errorf("players = %+v", players)
	}
	if len(svc.Players()) != 1 {
		t.Errorf("players registered = %d", len(svc.Players()))
	}
}

func TestConnectReceivesLobbySnapshot(t *testing.T) {
	svc, peer := newService(room.Config{})
	a := connect(t, svc, peer, 1)
	b := connect(t, svc, peer, 2)
	handle(t, svc, a, createRequest("one", 4, true))
	handle(t, svc, b, createRequest("two", 4, true))

	ep := endpoint(3)
	if err := svc.ApproveConnection(ep, hail(t, "late")); err != nil {
		t.Fatal(err)
	}
	svc.Connected(ep)
	frames := peer.take(ep)
	if len(frames) != 1 || frames[0].typ() != protocol.RefreshRoomsInLobby {
		t.Fatalf("frames = %v", types(frames))
	}
	update, err := protocol.ReadLobbyUpdate(frames[0].body())
	if err != nil {
		t.Fatal(err)
	}
	if !update.Absolute || len(update.Rooms) != 2 || update.Rooms[0].Name != "one" || update.Rooms[1].Name != "two" {
		t.Errorf("snapshot = %+v", update)
	}
}

func TestAdmission(t *testing.T) {
	svc, _ := newService(room.Config{})
	ep := endpoint(1)

	if err := svc.ApproveConnection(ep, nil); !errors.Is(err, room.ErrInvalidHandshake) {
		t.Errorf("empty hail = %v", err)
	}
	if err := svc.ApproveConnection(ep, leaveRequest()); !errors.Is(err, room.ErrInvalidHandshake) {
		t.Errorf("wrong hail = %v", err)
	}
	if err := svc.ApproveConnection(ep, hail(t, "x")); err != nil {
		t.Fatal(err)
	}
	if err := svc.ApproveConnection(ep, hail(t, "x")); !errors.Is(err, room.ErrDuplicateEndpoint) {
		t.Errorf("duplicate = %v", err)
	}

	players := svc.Players()
	if len(players) != 1 {
		t.Fatalf("players = %d", len(players))
	}
	if name, _ := properties.Get[string](players[0].Properties, 1); name != "x" {
		t.Errorf("hail properties not applied: %q", name)
	}
	if players[0].Properties.NeedsSync() {
		t.Error("hail properties marked dirty")
	}
}

func TestUnknownMessageIsProtocolViolation(t *testing.T) {
	svc, peer := newService(room.Config{})
	a := connect(t, svc, peer, 1)
	err := svc.HandleMessage(a, transport.KindData, []byte{byte(protocol.JoinResponse)})
	if !errors.Is(err, room.ErrProtocolViolation) {
		t.Errorf("err = %v, want ErrProtocolViolation", err)
	}
	err = svc.HandleMessage(a, transport.KindData, []byte{byte(protocol.CreateRoomRequest), 0x80})
	if !errors.Is(err, room.ErrProtocolViolation) {
		t.Errorf("malformed err = %v, want ErrProtocolViolation", err)
	}
}

func TestUserDataRelay(t *testing.T) {
	var hostGot []byte
	svc, peer := newService(room.Config{
		UserDataHandler: func(p *room.ServerPlayer, payload []byte) { hostGot = payload },
	})
	a := connect(t, svc, peer, 1)
	b := connect(t, svc, peer, 2)
	c := connect(t, svc, peer, 3)

	toRoom := func() []byte {
		w := protocol.NewMessage(protocol.UserDataToRoom)
		w.Byte(byte(transport.Unreliable))
		w.Raw([]byte("hi"))
		return w.Bytes()
	}

	handle(t, svc, a, toRoom())
	if frames := peer.take(b); len(frames) != 0 {
		t.Errorf("relay outside a room delivered %v", types(frames))
	}

	handle(t, svc, a, createRequest("chat", 3, false))
	handle(t, svc, b, joinRequest("chat", false))
	handle(t, svc, c, joinRequest("chat", false))
	peer.take(a)
	peer.take(b)
	peer.take(c)

	handle(t, svc, a, toRoom())
	for _, ep := range []transport.Endpoint{b, c} {
		frames := peer.take(ep)
		if len(frames) != 1 || frames[0].typ() != protocol.UserDataFromRoom || frames[0].method != transport.Unreliable {
			t.Fatalf("frames for %s = %v", ep, types(frames))
		}
		r := frames[0].body()
		if sender := r.Int32(); sender != a.Key() {
			t.Errorf("sender = %d", sender)
		}
		if string(r.Rest()) != "hi" {
			t.Errorf("payload mismatch")
		}
	}
	if frames := peer.take(a); len(frames) != 0 {
		t.Errorf("sender received its own data: %v", types(frames))
	}

	w := protocol.NewMessage(protocol.UserDataToOtherClient)
	w.Byte(byte(transport.ReliableOrdered))
	w.Int32(c.Key())
	w.Raw([]byte("psst"))
	handle(t, svc, a, w.Bytes())
	if frames := peer.take(b); len(frames) != 0 {
		t.Errorf("bystander received %v", types(frames))
	}
	frames := peer.take(c)
	if len(frames) != 1 || frames[0].typ() != protocol.UserDataFromOtherClient {
		t.Fatalf("target frames = %v", types(frames))
	}

	w = protocol.NewMessage(protocol.UserDataToHost)
	w.Byte(byte(transport.ReliableOrdered))
	w.Raw([]byte("server"))
	handle(t, svc, a, w.Bytes())
	if string(hostGot) != "server" {
		t.Errorf("host got %q", hostGot)
	}
}

func TestUpdateFlushesDirtyProperties(t *testing.T) {
	svc, peer := newService(room.Config{})
	a := connect(t, svc, peer, 1)
	b := connect(t, svc, peer, 2)
	handle(t, svc, a, createRequest("tick", 2, false))
	handle(t, svc, b, joinRequest("tick", false))
	peer.take(a)
	peer.take(b)

	players := svc.Players()
	var pa *room.ServerPlayer
	for _, p := range players {
		if p.Endpoint == a {
			pa = p
		}
	}
	_ = properties.Set(pa.Properties, 7, int32(100))
	r, _ := svc.Room("tick")
	_ = properties.Set(r.Properties, 2, "round2")

	svc.Update()

	aTypes := types(peer.take(a))
	bTypes := types(peer.take(b))
	if !contains(aTypes, protocol.RefreshLocalPlayerProperties) || !contains(aTypes, protocol.RefreshCurrentRoomProperties) {
		t.Errorf("owner frames = %v", aTypes)
	}
	if !contains(bTypes, protocol.RefreshOtherPlayerProperties) || !contains(bTypes, protocol.RefreshCurrentRoomProperties) {
		t.Errorf("occupant frames = %v", bTypes)
	}

	svc.Update()
	if frames := peer.take(a); len(frames) != 0 {
		t.Errorf("second update sent %v", types(frames))
	}
}

func TestSyncRelay(t *testing.T) {
	var serverGot int
	svc, peer := newService(room.Config{
		SyncHandler: func(*room.ServerPlayer, []byte) { serverGot++ },
	})
	a := connect(t, svc, peer, 1)
	b := connect(t, svc, peer, 2)

	if err := svc.HandleMessage(a, transport.KindSync, []byte("sync")); err != nil {
		t.Fatal(err)
	}
	frames := peer.take(b)
	if len(frames) != 1 || frames[0].kind != transport.KindSync || string(frames[0].payload) != "sync" {
		t.Errorf("relayed frames = %+v", frames)
	}
	if serverGot != 1 {
		t.Errorf("server sync handler calls = %d", serverGot)
	}
}

func contains(list []protocol.MessageType, want protocol.MessageType) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func TestCreateResponseCarriesEffectiveOptions(t *testing.T) {
	svc, peer := newService(room.Config{DefaultMaxPlayers: 6})
	a := connect(t, svc, peer, 1)

	handle(t, svc, a, createRequest("open", 0, true))
	frames := peer.take(a)
	if got := lastResult(t, frames, protocol.CreateResponse); got != protocol.Succeed {
		t.Fatalf("create = %s", got)
	}
	var r *wire.Reader
	for _, fr := range frames {
		if fr.typ() == protocol.CreateResponse {
			r = fr.body()
		}
	}
	r.Byte()
	if id := r.Int32(); id != a.Key() {
		t.Errorf("id = %d", id)
	}
	opts, err := protocol.ReadRoomOptions(r)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Name != "open" || opts.MaxPlayers != 6 || !opts.Visible {
		t.Errorf("options = %+v", opts)
	}
}

func readLobbyProps(t *testing.T, frames []frame) (string, properties.Delta) {
	t.Helper()
	for _, fr := range frames {
		if fr.typ() != protocol.RefreshRoomInLobbyProperties {
			continue
		}
		r := fr.body()
		name := r.Text()
		d, err := properties.ReadDelta(r)
		if err != nil {
			t.Fatal(err)
		}
		return name, d
	}
	t.Fatalf("no RefreshRoomInLobbyProperties in %v", types(frames))
	return "", properties.Delta{}
}

func TestLobbyPropertiesReachLobby(t *testing.T) {
	svc, peer := newService(room.Config{})
	a := connect(t, svc, peer, 1)
	b := connect(t, svc, peer, 2)
	handle(t, svc, a, createRequest("ctf", 4, true))
	peer.take(a)
	peer.take(b)

	mode := properties.NewTable()
	if err := properties.Set(mode, 3, "capture"); err != nil {
		t.Fatal(err)
	}
	w := protocol.NewMessage(protocol.SetRoomProperties)
	w.Bool(true)
	mode.Snapshot().Write(w)
	handle(t, svc, a, w.Bytes())

	name, d := readLobbyProps(t, peer.take(b))
	if name != "ctf" || len(d.Changed) != 1 || d.Changed[0].Key != 3 {
		t.Errorf("lobby refresh = %s %+v", name, d)
	}
	if frames := peer.take(a); contains(types(frames), protocol.RefreshRoomInLobbyProperties) {
		t.Error("occupant received a lobby refresh")
	}

	// Server-side writes go out on the next Update.
	r, _ := svc.Room("ctf")
	if err := properties.Set(r.LobbyProperties, 4, int32(3)); err != nil {
		t.Fatal(err)
	}
	svc.Update()
	name, d = readLobbyProps(t, peer.take(b))
	if name != "ctf" || len(d.Changed) != 1 || d.Changed[0].Key != 4 {
		t.Errorf("update refresh = %s %+v", name, d)
	}
	aTypes := types(peer.take(a))
	if !contains(aTypes, protocol.RefreshCurrentRoomProperties) {
		t.Errorf("occupant frames = %v", aTypes)
	}
}

func TestHiddenRoomLobbyPropertiesStayInRoom(t *testing.T) {
	svc, peer := newService(room.Config{})
	a := connect(t, svc, peer, 1)
	b := connect(t, svc, peer, 2)
	handle(t, svc, a, createRequest("secret", 4, false))
	peer.take(a)
	peer.take(b)

	r, _ := svc.Room("secret")
	if err := properties.Set(r.LobbyProperties, 1, true); err != nil {
		t.Fatal(err)
	}
	svc.Update()
	if frames := peer.take(b); len(frames) != 0 {
		t.Errorf("lobby saw %v", types(frames))
	}
}

func TestSendFromHost(t *testing.T) {
	svc, peer := newService(room.Config{})
	a := connect(t, svc, peer, 1)
	b := connect(t, svc, peer, 2)
	c := connect(t, svc, peer, 3)
	handle(t, svc, a, createRequest("chat", 4, true))
	handle(t, svc, b, joinRequest("chat", false))
	peer.take(a)
	peer.take(b)
	peer.take(c)

	if err := svc.SendToPlayer(c.Key(), []byte("welcome"), transport.ReliableOrdered); err != nil {
		t.Fatal(err)
	}
	frames := peer.take(c)
	if len(frames) != 1 || frames[0].typ() != protocol.UserDataFromHost || string(frames[0].body().Rest()) != "welcome" {
		t.Fatalf("player frames = %v", types(frames))
	}

	if err := svc.SendToRoom("chat", []byte("round"), transport.Unreliable); err != nil {
		t.Fatal(err)
	}
	for _, ep := range []transport.Endpoint{a, b} {
		frames := peer.take(ep)
		if len(frames) != 1 || frames[0].typ() != protocol.UserDataFromHost || frames[0].method != transport.Unreliable {
			t.Fatalf("frames for %s = %v", ep, types(frames))
		}
		if got := string(frames[0].body().Rest()); got != "round" {
			t.Errorf("payload for %s = %q", ep, got)
		}
	}
	if frames := peer.take(c); len(frames) != 0 {
		t.Errorf("lobby player received %v", types(frames))
	}

	if err := svc.SendToPlayer(999, nil, transport.ReliableOrdered); !errors.Is(err, room.ErrUnknownPlayer) {
		t.Errorf("SendToPlayer unknown = %v", err)
	}
	if err := svc.SendToRoom("nowhere", nil, transport.ReliableOrdered); !errors.Is(err, room.ErrUnknownRoom) {
		t.Errorf("SendToRoom unknown = %v", err)
	}
}

func TestRoomReadsDuringMembershipChanges(t *testing.T) {
	svc, peer := newService(room.Config{})
	a := connect(t, svc, peer, 1)
	b := connect(t, svc, peer, 2)
	handle(t, svc, a, createRequest("busy", 4, true))
	r, _ := svc.Room("busy")

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			for _, p := range r.Players() {
				_ = p.Room()
			}
			_ = r.Info()
		}
	}()

	for range 100 {
		handle(t, svc, b, joinRequest("busy", false))
		handle(t, svc, b, leaveRequest())
	}
	close(done)
	wg.Wait()
	if r.PlayerCount() != 1 {
		t.Errorf("players = %d", r.PlayerCount())
	}
}
