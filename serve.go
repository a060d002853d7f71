package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mark3labs/mcp-go/server"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/wricardo/surfrace/api"
	"github.com/wricardo/surfrace/race/config"
	"github.com/wricardo/surfrace/race/directory"
	"github.com/wricardo/surfrace/race/reconnect"
	"github.com/wricardo/surfrace/race/registry"
	"github.com/wricardo/surfrace/race/service"
	"github.com/wricardo/surfrace/transport/mcp"
	"github.com/wricardo/surfrace/transport/websocket"
)

// stack is every long-lived component of one server instance.
type stack struct {
	cfg       config.Config
	hub       *websocket.Hub
	rooms     *registry.Registry
	reconnect *reconnect.Manager
	service   *service.Service
	api       *api.Server
	logger    zerolog.Logger
}

// newStack wires the race components around a websocket hub. The caller
// starts hub.Run and rooms.Run.
func newStack(cfg config.Config, clock clockwork.Clock, dir directory.Directory, logger zerolog.Logger) *stack {
	hub := websocket.NewHub(logger)
	rooms := registry.New(cfg, clock, hub, dir, logger)
	rc := reconnect.New(clock, cfg.ReconnectGrace.Std(), logger)
	svc := service.New(cfg, rooms, rc, hub, clock, logger)

	return &stack{
		cfg:       cfg,
		hub:       hub,
		rooms:     rooms,
		reconnect: rc,
		service:   svc,
		api:       api.NewServer(svc, hub, api.Info{Name: AppName, Version: Version}, logger),
		logger:    logger,
	}
}

// start launches the hub loop and the room sweeper. Both stop with ctx.
func (s *stack) start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.hub.Run()
	}()
	go func() {
		defer wg.Done()
		s.rooms.Run(ctx)
	}()
}

// stop cancels pending reconnect timers, closes every room and every connection.
func (s *stack) stop() {
	s.reconnect.Stop()
	s.rooms.Close()
	s.hub.Stop()
}

// handler mounts the API at the root and the MCP endpoint at /mcp.
func (s *stack) handler(mcpClient *mcp.Client) http.Handler {
	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", s.api)
	mainRouter.HandleFunc("/mcp", mcpHandler(mcpClient, s.logger))
	return mainRouter
}

// mcpHandler serves single JSON-RPC messages over HTTP POST.
func mcpHandler(mcpClient *mcp.Client, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := mcpClient.GetMCPServer().HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			logger.Error().Err(err).Msg("marshal mcp response")
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	}
}

// openDirectory picks the room directory. Without an address, or when Redis
// is unreachable, rooms are mirrored in memory only.
func openDirectory(ctx context.Context, addr string, ttl time.Duration, logger zerolog.Logger) (directory.Directory, func()) {
	if addr == "" {
		return directory.NewMemory(), func() {}
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", addr).Msg("redis unreachable, using in-memory room directory")
		client.Close()
		return directory.NewMemory(), func() {}
	}

	logger.Info().Str("addr", addr).Dur("ttl", ttl).Msg("publishing rooms to redis directory")
	return directory.NewRedis(client, ttl), func() {
		if err := client.Close(); err != nil {
			logger.Warn().Err(err).Msg("close redis client")
		}
	}
}

// watchDirectory logs room changes published by any instance sharing the
// Redis directory.
func watchDirectory(ctx context.Context, dir *directory.Redis, logger zerolog.Logger) {
	sub := dir.Subscribe(ctx)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var change directory.Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				logger.Debug().Err(err).Msg("ignoring malformed directory event")
				continue
			}
			logger.Debug().Str("action", change.Action).Str("room_id", change.RoomID).Int("count", change.Count).Msg("directory change")
		}
	}
}

// prepare builds the logger, config, directory and stack shared by both commands.
func prepare(ctx context.Context, cmd *cli.Command) (*stack, func(), error) {
	logger, err := setupLogger(cmd.String(flagLogLevel), cmd.String(flagLogFormat))
	if err != nil {
		return nil, nil, err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Info().
		Str("version", Version).
		Int("max_players", cfg.MaxPlayers).
		Bool("auto_start", cfg.AutoStart).
		Bool("classroom", cfg.Classroom).
		Dur("reconnect_grace", cfg.ReconnectGrace.Std()).
		Msgf("starting %s", AppName)

	// Entries outlive a few missed refreshes before Redis expires them.
	dir, closeDir := openDirectory(ctx, cmd.String(flagRedisAddr), 3*cfg.SweepInterval.Std(), logger)
	if rd, ok := dir.(*directory.Redis); ok {
		go watchDirectory(ctx, rd, logger)
	}

	return newStack(cfg, clockwork.NewRealClock(), dir, logger), closeDir, nil
}

// runServe starts the HTTP server with websocket, REST API and an /mcp proxy
// endpoint. If ngrok is enabled it also provisions a public tunnel.
func runServe(ctx context.Context, cmd *cli.Command) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, closeDir, err := prepare(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeDir()
	logger := st.logger

	var wg sync.WaitGroup
	st.start(ctx, &wg)

	addr := fmt.Sprintf("%s:%d", cmd.String("host"), cmd.Int("port"))
	mcpClient := mcp.NewClient("http://" + addr)
	handler := st.handler(mcpClient)

	// No WriteTimeout: websocket connections are long lived.
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", addr).
			Str("websocket", "ws://"+addr+"/ws").
			Str("rest", "http://"+addr+"/api").
			Str("mcp", "http://"+addr+"/mcp").
			Msg("HTTP server listening")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if cmd.Bool("ngrok") {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runTunnel(ctx, cmd.String("ngrok-auth"), cmd.String("ngrok-domain"), handler, logger)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("HTTP server failed: %w", err)
		}
		cancel()
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	st.stop()

	wg.Wait()
	logger.Info().Msg("server stopped")
	return runErr
}

// runTunnel serves handler through an ngrok endpoint until ctx is cancelled.
func runTunnel(ctx context.Context, authToken, domain string, handler http.Handler, logger zerolog.Logger) {
	if authToken == "" {
		logger.Warn().Msg("ngrok enabled but no auth token provided (use --ngrok-auth, NGROK_AUTHTOKEN or NGROK_AUTH_TOKEN)")
		return
	}

	var tunnel ngrokConfig.Tunnel
	if domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(domain))
		logger.Info().Str("domain", domain).Msg("using custom ngrok domain")
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(authToken))
	if err != nil {
		logger.Error().Err(err).Msg("failed to start ngrok tunnel")
		return
	}

	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close ngrok tunnel")
		}
	}()

	logger.Info().Str("url", tun.URL()).Msg("ngrok tunnel established")

	if err := http.Serve(tun, handler); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		logger.Error().Err(err).Msg("ngrok server error")
	}
	logger.Info().Msg("ngrok tunnel closed")
}

// apiReachable reports whether a race server answers /health at baseURL.
func apiReachable(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// runStdioMCP runs an MCP stdio server. It reuses the server at --api-url when
// it answers; otherwise it starts an internal HTTP server bound to a random
// loopback port and targets that.
func runStdioMCP(ctx context.Context, cmd *cli.Command) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger, err := setupLogger(cmd.String(flagLogLevel), cmd.String(flagLogFormat))
	if err != nil {
		return err
	}

	baseURL := cmd.String("api-url")
	if apiReachable(ctx, baseURL) {
		logger.Info().Str("url", baseURL).Msg("using external race server for MCP")
	} else {
		logger.Info().Str("url", baseURL).Msg("no race server found, starting internal HTTP server")

		st, closeDir, err := prepare(ctx, cmd)
		if err != nil {
			return err
		}
		defer closeDir()

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}
		baseURL = "http://" + listener.Addr().String()

		var wg sync.WaitGroup
		st.start(ctx, &wg)

		httpServer := &http.Server{Handler: st.api}
		go func() {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("internal HTTP server error")
			}
		}()
		defer func() {
			httpServer.Close()
			st.stop()
			cancel()
			wg.Wait()
		}()

		logger.Info().Str("url", baseURL).Msg("internal HTTP server started")
	}

	mcpClient := mcp.NewClient(baseURL)
	logger.Info().Msg("MCP stdio server ready")

	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}
