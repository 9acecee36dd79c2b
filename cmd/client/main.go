package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"go-matchmaking/domain/client"
	"go-matchmaking/domain/properties"
	"go-matchmaking/domain/protocol"
	"go-matchmaking/domain/replication"
	"go-matchmaking/domain/wire"
	"go-matchmaking/server"
	"go-matchmaking/transport"
	"go-matchmaking/transport/wsnet"
)

const (
	keyName byte = iota
	keyPosition
)

func main() {
	var (
		serverAddr  = flag.String("server", "127.0.0.1:7777", "game server address")
		apiURL      = flag.String("api", "http://127.0.0.1:9090", "lobby API base URL")
		name        = flag.String("name", "player", "player name")
		roomName    = flag.String("room", "lobby", "room to join or create")
		maxPlayers  = flag.Int("max-players", 8, "capacity when creating the room")
		tick        = flag.Duration("tick", 50*time.Millisecond, "property flush interval")
		joinTimeout = flag.Duration("join-timeout", 5*time.Second, "give up joining after this long")
		list        = flag.Bool("list", false, "list rooms through the lobby API and exit")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *list {
		if err := listRooms(ctx, *apiURL); err != nil {
			slog.Error("list rooms failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}
	if err := run(ctx, logger, *serverAddr, *name, *roomName, *maxPlayers, *tick, *joinTimeout); err != nil {
		slog.Error("client failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func listRooms(ctx context.Context, apiURL string) error {
	lc := server.NewLobbyClient(http.DefaultClient, apiURL)
	rooms, err := lc.ListRooms(ctx, "", -1)
	if err != nil {
		return err
	}
	for _, r := range rooms {
		fmt.Printf("%-24s %d/%d\n", r.Name, r.PlayerCount, r.MaxPlayers)
	}
	return nil
}

// avatarScene prints replicated avatars as they come and go.
type avatarScene struct{}

func (avatarScene) AddEntity(o *replication.Object) {
	if o.Local() {
		return
	}
	table := o.Component.(*replication.PropertyComponent).Table
	n, _ := properties.Get[string](table, keyName)
	fmt.Printf("* %s appeared\n", n)
}

func (avatarScene) RemoveEntity(o *replication.Object) {
	if !o.Local() {
		fmt.Printf("* avatar of player %d left\n", o.Owner)
	}
}

func avatarFactory(*wire.Reader) (replication.SyncComponent, error) {
	c := replication.NewPropertyComponent()
	c.Table = properties.NewReadOnlyTable()
	return c, nil
}

func run(ctx context.Context, logger *slog.Logger, serverAddr, name, roomName string, maxPlayers int, tick, joinTimeout time.Duration) error {
	ep, err := transport.ParseEndpoint(serverAddr)
	if err != nil {
		return err
	}

	c := client.New(nil, client.Config{Logger: logger, JoinTimeout: joinTimeout})
	c.SetPeer(wsnet.NewClient(c, wsnet.ClientConfig{Logger: logger}))
	if err := properties.Set(c.LocalPlayer().Properties(), keyName, name); err != nil {
		return err
	}

	registry := replication.NewRegistry()
	scene := replication.NewManager(replication.Config{
		Scene:  "room:" + roomName,
		Hooks:  avatarScene{},
		Sender: c,
		Owner:  c.LocalPlayer().ID,
		Logger: logger,
	})
	scene.RegisterFactory("avatar", avatarFactory)

	ev := c.Events()
	ev.SyncMessage.Subscribe(func(payload []byte) {
		if err := registry.Route(payload); err != nil {
			logger.Debug("sync frame dropped", slog.String("error", err.Error()))
		}
	})
	ev.UserData.Subscribe(func(d client.UserData) {
		fmt.Printf("[%d] %s\n", d.SenderID, d.Payload)
	})
	ev.PlayerJoined.Subscribe(func(p client.NetworkPlayer) {
		n, _ := properties.Get[string](p.Properties(), keyName)
		fmt.Printf("* %s joined\n", n)
	})
	ev.PlayerLeft.Subscribe(func(p client.NetworkPlayer) {
		registry.DropOwner(p.ID())
	})

	if err := c.Connect(ctx, ep); err != nil {
		return err
	}
	defer c.Disconnect()

	future, err := c.JoinOrCreateRoomAsync(client.RoomParams{
		RoomOptions: protocol.RoomOptions{Name: roomName, MaxPlayers: maxPlayers, Visible: true},
	})
	if err != nil {
		return err
	}
	code, err := future.Wait(ctx)
	if err != nil {
		return err
	}
	if code != protocol.Succeed {
		return fmt.Errorf("join %s: %s", roomName, code)
	}
	fmt.Printf("joined %s as player %d\n", roomName, c.LocalPlayer().ID())

	if err := registry.Register(scene); err != nil {
		return err
	}
	avatar := replication.NewPropertyComponent()
	if err := properties.Set(avatar.Table, keyName, name); err != nil {
		return err
	}
	scene.Add("avatar", avatar)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if c.State() == client.Disconnected {
				return fmt.Errorf("disconnected from %s", ep)
			}
			c.Update()
			scene.Update()
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				return nil
			}
			if err := handleLine(c, avatar, line); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		}
	}
}

func handleLine(c *client.Client, avatar *replication.PropertyComponent, line string) error {
	if rest, ok := strings.CutPrefix(line, "/move "); ok {
		var v mgl32.Vec3
		if _, err := fmt.Sscanf(rest, "%f %f %f", &v[0], &v[1], &v[2]); err != nil {
			return fmt.Errorf("usage: /move x y z")
		}
		return properties.Set(avatar.Table, keyPosition, v)
	}
	return c.SendToCurrentRoom([]byte(line), transport.ReliableOrdered)
}
