package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/validate"

	"go-matchmaking/domain/room"
	"go-matchmaking/server"
	"go-matchmaking/transport/wsnet"
	"go-matchmaking/utils"
)

func main() {
	var (
		addr       = flag.String("addr", ":7777", "game transport listen address")
		apiAddr    = flag.String("api", ":9090", "lobby API listen address")
		tick       = flag.Duration("tick", 50*time.Millisecond, "property flush interval")
		maxPlayers = flag.Int("max-players", 8, "default room capacity")
		maxName    = flag.Int("max-name", 64, "maximum room name length")
		queue      = flag.Int("queue", wsnet.DefaultQueueLength, "per-connection send queue length")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	svc := room.NewInMemoryService(nil, room.Config{
		DefaultMaxPlayers: *maxPlayers,
		MaxRoomNameLength: *maxName,
		Logger:            logger,
		UserDataHandler: func(p *room.ServerPlayer, payload []byte) {
			logger.Debug("user data to host", slog.Int("player", int(p.ID)), slog.Int("bytes", len(payload)))
		},
	})
	peer := wsnet.NewServer(svc, wsnet.ServerConfig{Logger: logger, QueueLength: *queue})
	svc.SetPeer(peer)

	ev := svc.Events()
	ev.RoomCreated.Subscribe(func(r *room.ServerRoom) {
		logger.Info("room created", slog.String("room", r.Name), slog.Int("max_players", r.MaxPlayers))
	})
	ev.RoomRemoved.Subscribe(func(r *room.ServerRoom) {
		logger.Info("room removed", slog.String("room", r.Name))
	})

	validateInterceptor, err := validate.NewInterceptor()
	if err != nil {
		slog.Error("error creating interceptor",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	mux := http.NewServeMux()
	lobbyPath, lobbyHandler := server.New(svc).Handler(connect.WithInterceptors(validateInterceptor))
	mux.Handle(lobbyPath, lobbyHandler)

	gameSrv := &http.Server{Addr: *addr, Handler: peer}
	apiSrv := &http.Server{Addr: *apiAddr, Handler: utils.WithCORS(mux)}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 2)
	for _, s := range []*http.Server{gameSrv, apiSrv} {
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
	}
	logger.Info("server running", slog.String("game", *addr), slog.String("api", *apiAddr))

	ticker := time.NewTicker(*tick)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-errc:
			slog.Error("listener failed", slog.String("error", err.Error()))
			break loop
		case <-ticker.C:
			svc.Update()
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = apiSrv.Shutdown(shutdownCtx)
	peer.Close()
	_ = gameSrv.Shutdown(shutdownCtx)
}
