package server

import (
	"context"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// LobbyClient calls the lobby API.
type LobbyClient struct {
	listRooms   *connect.Client[structpb.Struct, structpb.Struct]
	listMembers *connect.Client[structpb.Struct, structpb.Struct]
	stats       *connect.Client[emptypb.Empty, structpb.Struct]
	watchLobby  *connect.Client[structpb.Struct, structpb.Struct]
}

func NewLobbyClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *LobbyClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &LobbyClient{
		listRooms:   connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+ListRoomsProcedure, opts...),
		listMembers: connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+ListMembersProcedure, opts...),
		stats:       connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+StatsProcedure, opts...),
		watchLobby:  connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+WatchLobbyProcedure, opts...),
	}
}

type RoomSummary struct {
	Name         string
	MaxPlayers   int
	PlayerCount  int
	PropertyKeys []byte
}

// ListRooms fetches visible rooms whose name starts with prefix. A
// negative limit returns all of them.
func (c *LobbyClient) ListRooms(ctx context.Context, prefix string, limit int) ([]RoomSummary, error) {
	fields := map[string]any{"prefix": prefix}
	if limit >= 0 {
		fields["limit"] = float64(limit)
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	resp, err := c.listRooms.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return readRooms(resp.Msg), nil
}

func readKeys(v *structpb.Value) []byte {
	var keys []byte
	for _, k := range v.GetListValue().GetValues() {
		keys = append(keys, byte(k.GetNumberValue()))
	}
	return keys
}

func readRooms(msg *structpb.Struct) []RoomSummary {
	var out []RoomSummary
	for _, v := range msg.GetFields()["rooms"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		out = append(out, RoomSummary{
			Name:         f["name"].GetStringValue(),
			MaxPlayers:   int(f["maxPlayers"].GetNumberValue()),
			PlayerCount:  int(f["playerCount"].GetNumberValue()),
			PropertyKeys: readKeys(f["propertyKeys"]),
		})
	}
	return out
}

type Member struct {
	ID           int32
	Endpoint     string
	PropertyKeys []byte
}

func (c *LobbyClient) ListMembers(ctx context.Context, room string) ([]Member, error) {
	msg, err := structpb.NewStruct(map[string]any{"room": room})
	if err != nil {
		return nil, err
	}
	resp, err := c.listMembers.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	var out []Member
	for _, v := range resp.Msg.GetFields()["players"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		out = append(out, Member{
			ID:           int32(f["id"].GetNumberValue()),
			Endpoint:     f["endpoint"].GetStringValue(),
			PropertyKeys: readKeys(f["propertyKeys"]),
		})
	}
	return out, nil
}

// LobbyEvent is one WatchLobby message. Rooms is set on the snapshot only;
// Player only on membership events.
type LobbyEvent struct {
	Kind        string
	Room        string
	Player      int32
	PlayerCount int
	Rooms       []RoomSummary
}

// LobbyWatch reads a WatchLobby stream.
type LobbyWatch struct {
	stream *connect.ServerStreamForClient[structpb.Struct]
}

// WatchLobby opens an event stream. An empty room watches every visible
// room.
func (c *LobbyClient) WatchLobby(ctx context.Context, room string) (*LobbyWatch, error) {
	fields := map[string]any{}
	if room != "" {
		fields["room"] = room
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	stream, err := c.watchLobby.CallServerStream(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return &LobbyWatch{stream: stream}, nil
}

// Next blocks for the next event. It returns false when the stream ends;
// Err then reports why.
func (w *LobbyWatch) Next() (LobbyEvent, bool) {
	if !w.stream.Receive() {
		return LobbyEvent{}, false
	}
	msg := w.stream.Msg()
	f := msg.GetFields()
	ev := LobbyEvent{
		Kind:        f["event"].GetStringValue(),
		Room:        f["room"].GetStringValue(),
		PlayerCount: int(f["playerCount"].GetNumberValue()),
	}
	if v, ok := f["player"]; ok {
		ev.Player = int32(v.GetNumberValue())
	}
	if ev.Kind == EventSnapshot {
		ev.Rooms = readRooms(msg)
	}
	return ev, true
}

func (w *LobbyWatch) Err() error   { return w.stream.Err() }
func (w *LobbyWatch) Close() error { return w.stream.Close() }

type Stats struct {
	Players, Rooms, VisibleRooms int
}

func (c *LobbyClient) Stats(ctx context.Context) (Stats, error) {
	resp, err := c.stats.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return Stats{}, err
	}
	f := resp.Msg.GetFields()
	return Stats{
		Players:      int(f["players"].GetNumberValue()),
		Rooms:        int(f["rooms"].GetNumberValue()),
		VisibleRooms: int(f["visibleRooms"].GetNumberValue()),
	}, nil
}
