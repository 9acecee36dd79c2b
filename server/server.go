// Package server exposes a read-only lobby browsing API over Connect so
// tools and web pages can list rooms without joining the game transport.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"go-matchmaking/domain/protocol"
	"go-matchmaking/domain/room"
)

const (
	ServiceName          = "matchmaking.v1.LobbyService"
	ServicePath          = "/" + ServiceName + "/"
	ListRoomsProcedure   = ServicePath + "ListRooms"
	ListMembersProcedure = ServicePath + "ListMembers"
	StatsProcedure       = ServicePath + "Stats"
	WatchLobbyProcedure  = ServicePath + "WatchLobby"
)

// Event kinds sent by WatchLobby.
const (
	EventSnapshot     = "snapshot"
	EventRoomCreated  = "roomCreated"
	EventRoomRemoved  = "roomRemoved"
	EventPlayerJoined = "playerJoined"
	EventPlayerLeft   = "playerLeft"
)

// watchBuffer is the per-feed backlog of a WatchLobby stream. A slow
// watcher misses events beyond it.
const watchBuffer = 32

// Lobby is the part of room.Service the API reads.
type Lobby interface {
	LobbySnapshot() []protocol.RoomInfo
	Rooms() []*room.ServerRoom
	Players() []*room.ServerPlayer
	Room(name string) (*room.ServerRoom, bool)
	Events() *room.Events
}

type Server struct {
	RoomService Lobby
}

func New(svc Lobby) *Server {
	return &Server{RoomService: svc}
}

func stringField(msg *structpb.Struct, name string) (string, error) {
	v, ok := msg.GetFields()[name]
	if !ok {
		return "", nil
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%s must be a string", name))
	}
	return sv.StringValue, nil
}

// ListRooms returns the visible rooms. The optional "prefix" field filters
// by name and "limit" caps the result.
func (s *Server) ListRooms(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	var prefix string
	limit := -1
	if f := req.Msg.GetFields(); f != nil {
		var err error
		if prefix, err = stringField(req.Msg, "prefix"); err != nil {
			return nil, err
		}
		if v, ok := f["limit"]; ok {
			nv, ok := v.GetKind().(*structpb.Value_NumberValue)
			if !ok || nv.NumberValue < 0 || nv.NumberValue != float64(int(nv.NumberValue)) {
				return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("limit must be a non-negative integer"))
			}
			limit = int(nv.NumberValue)
		}
	}

	rooms := make([]any, 0)
	for _, info := range s.RoomService.LobbySnapshot() {
		if limit >= 0 && len(rooms) >= limit {
			break
		}
		if !strings.HasPrefix(info.Name, prefix) {
			continue
		}
		rooms = append(rooms, roomFields(info))
	}
	out, err := structpb.NewStruct(map[string]any{"rooms": rooms})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

func roomFields(info protocol.RoomInfo) map[string]any {
	keys := make([]any, 0, len(info.Properties.Changed))
	for _, e := range info.Properties.Changed {
		keys = append(keys, float64(e.Key))
	}
	return map[string]any{
		"name":         info.Name,
		"maxPlayers":   float64(info.MaxPlayers),
		"playerCount":  float64(info.PlayerCount),
		"propertyKeys": keys,
	}
}

// ListMembers returns the occupants of the room named by the "room" field,
// ordered by join time.
func (s *Server) ListMembers(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	name, err := stringField(req.Msg, "room")
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("room is required"))
	}
	r, ok := s.RoomService.Room(name)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("room %q not found", name))
	}
	players := make([]any, 0, r.PlayerCount())
	for _, p := range r.Players() {
		keys := make([]any, 0)
		for _, k := range p.Properties.Keys() {
			keys = append(keys, float64(k))
		}
		players = append(players, map[string]any{
			"id":           float64(p.ID),
			"endpoint":     p.Endpoint.String(),
			"propertyKeys": keys,
		})
	}
	out, err := structpb.NewStruct(map[string]any{"room": name, "players": players})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

// WatchLobby streams room lifecycle and membership events. The first
// message is a snapshot of the visible rooms. Events are collected from
// before the snapshot, so a change it already shows may repeat. An optional "room" field narrows the stream to one room,
// which may be hidden but must exist.
func (s *Server) WatchLobby(ctx context.Context, req *connect.Request[structpb.Struct], stream *connect.ServerStream[structpb.Struct]) error {
	name, err := stringField(req.Msg, "room")
	if err != nil {
		return err
	}
	if name != "" {
		if _, ok := s.RoomService.Room(name); !ok {
			return connect.NewError(connect.CodeNotFound, fmt.Errorf("room %q not found", name))
		}
	}

	ev := s.RoomService.Events()
	created, cancelCreated := ev.RoomCreated.SubscribeChan(watchBuffer)
	defer cancelCreated()
	removed, cancelRemoved := ev.RoomRemoved.SubscribeChan(watchBuffer)
	defer cancelRemoved()
	joined, cancelJoined := ev.PlayerJoinedRoom.SubscribeChan(watchBuffer)
	defer cancelJoined()
	left, cancelLeft := ev.PlayerLeftRoom.SubscribeChan(watchBuffer)
	defer cancelLeft()

	rooms := make([]any, 0)
	for _, info := range s.RoomService.LobbySnapshot() {
		if name == "" || info.Name == name {
			rooms = append(rooms, roomFields(info))
		}
	}
	if err := send(stream, map[string]any{"event": EventSnapshot, "rooms": rooms}); err != nil {
		return err
	}

	wanted := func(r *room.ServerRoom) bool {
		if name != "" {
			return r.Name == name
		}
		return r.Visible
	}
	for {
		var fields map[string]any
		select {
		case <-ctx.Done():
			return nil
		case r := <-created:
			if wanted(r) {
				fields = roomEvent(EventRoomCreated, r)
			}
		case r := <-removed:
			if wanted(r) {
				fields = roomEvent(EventRoomRemoved, r)
			}
		case e := <-joined:
			if wanted(e.Room) {
				fields = playerEvent(EventPlayerJoined, e)
			}
		case e := <-left:
			if wanted(e.Room) {
				fields = playerEvent(EventPlayerLeft, e)
			}
		}
		if fields == nil {
			continue
		}
		if err := send(stream, fields); err != nil {
			return err
		}
	}
}

func roomEvent(kind string, r *room.ServerRoom) map[string]any {
	return map[string]any{
		"event":       kind,
		"room":        r.Name,
		"playerCount": float64(r.PlayerCount()),
	}
}

func playerEvent(kind string, e room.RoomEvent) map[string]any {
	fields := roomEvent(kind, e.Room)
	fields["player"] = float64(e.Player.ID)
	return fields
}

func send(stream *connect.ServerStream[structpb.Struct], fields map[string]any) error {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return connect.NewError(connect.CodeInternal, err)
	}
	return stream.Send(msg)
}

// Stats reports how many players and rooms the server holds.
func (s *Server) Stats(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	out, err := structpb.NewStruct(map[string]any{
		"players":      float64(len(s.RoomService.Players())),
		"rooms":        float64(len(s.RoomService.Rooms())),
		"visibleRooms": float64(len(s.RoomService.LobbySnapshot())),
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

// Handler mounts every procedure under ServicePath.
func (s *Server) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(ListRoomsProcedure, connect.NewUnaryHandler(ListRoomsProcedure, s.ListRooms, opts...))
	mux.Handle(ListMembersProcedure, connect.NewUnaryHandler(ListMembersProcedure, s.ListMembers, opts...))
	mux.Handle(StatsProcedure, connect.NewUnaryHandler(StatsProcedure, s.Stats, opts...))
	mux.Handle(WatchLobbyProcedure, connect.NewServerStreamHandler(WatchLobbyProcedure, s.WatchLobby, opts...))
	return ServicePath, mux
}
