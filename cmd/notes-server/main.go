// Command notes-server serves the notes example over stdio or Streamable
// HTTP. It is configured entirely from the environment; see Config.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggoodman/mcp-router-go/broker"
	memorybroker "github.com/ggoodman/mcp-router-go/broker/memory"
	redisbroker "github.com/ggoodman/mcp-router-go/broker/redis"
	"github.com/ggoodman/mcp-router-go/examples/notes"
	"github.com/ggoodman/mcp-router-go/fsresource"
	"github.com/ggoodman/mcp-router-go/internal/logctx"
	"github.com/ggoodman/mcp-router-go/mcp"
	"github.com/ggoodman/mcp-router-go/mcprouter"
	"github.com/ggoodman/mcp-router-go/stdio"
	"github.com/ggoodman/mcp-router-go/storage"
	"github.com/ggoodman/mcp-router-go/storage/memory"
	redisstore "github.com/ggoodman/mcp-router-go/storage/redis"
	"github.com/ggoodman/mcp-router-go/streaminghttp"
	"github.com/redis/go-redis/v9"
)

const version = "0.1.0"

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// notifyFunc publishes a server-initiated notification on the active
// transport.
type notifyFunc func(ctx context.Context, method string, params any) error

func run(ctx context.Context, cfg Config, stdin io.Reader, stdout, stderr io.Writer) error {
	lvl, err := cfg.slogLevel()
	if err != nil {
		return err
	}
	level := new(slog.LevelVar)
	level.Set(lvl)
	log := slog.New(logctx.NewHandler(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: level})))

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.SeedFile != "" {
		n, err := loadSeed(ctx, store, cfg.SeedFile)
		if err != nil {
			return err
		}
		log.InfoContext(ctx, "notes.seed.ok", slog.Int("count", n), slog.String("path", cfg.SeedFile))
	}

	// Assigned once the transport exists, before anything can call it.
	var publish notifyFunc
	onUpdate := func(ctx context.Context, uri string) {
		if publish == nil {
			return
		}
		if err := publish(ctx, string(mcp.ResourcesUpdatedNotificationMethod), mcp.ResourceUpdatedNotification{URI: uri}); err != nil {
			log.WarnContext(ctx, "notify.resource_updated.fail", slog.String("uri", uri), slog.String("err", err.Error()))
		}
	}

	notesRoute, err := notes.Route(store, notes.WithUpdateFunc(onUpdate))
	if err != nil {
		return err
	}
	routes := []*mcprouter.Route{notesRoute}

	var dir *fsresource.Dir
	if cfg.FSRoot != "" {
		dir, err = fsresource.New(
			fsresource.WithOSDir(cfg.FSRoot),
			fsresource.WithBaseURI("fs://root"),
			fsresource.WithLogger(log),
		)
		if err != nil {
			return err
		}
		fsRoute, err := dir.Route(ctx)
		if err != nil {
			return err
		}
		routes = append(routes, fsRoute)
	}

	srv := mcprouter.NewServer(mcprouter.Merge(routes...),
		mcprouter.WithServerInfo(mcp.ImplementationInfo{Name: "notes-server", Title: "Notes", Version: version}),
		mcprouter.WithInstructions("Store notes with note_put and read them back from notes://{key}."),
		mcprouter.WithPageSize(cfg.PageSize),
		mcprouter.WithLoggingCapability(mcprouter.NewSlogLevelVarLogging(level)),
	)

	startWatch := func() {
		if dir == nil {
			return
		}
		go func() {
			if err := dir.Watch(ctx, onUpdate); err != nil {
				log.WarnContext(ctx, "fsresource.watch.fail", slog.String("err", err.Error()))
			}
		}()
	}

	log.InfoContext(ctx, "server.start",
		slog.String("transport", cfg.Transport),
		slog.String("storage", cfg.Storage),
		slog.String("version", version))

	switch cfg.Transport {
	case "http":
		b, err := openBroker(ctx, cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		h, err := streaminghttp.New(ctx, cfg.PublicEndpoint, srv,
			streaminghttp.WithLogger(log),
			streaminghttp.WithBroker(b),
		)
		if err != nil {
			return err
		}
		publish = h.Notify
		startWatch()
		return serveHTTP(ctx, log, cfg.HTTPAddr, h)
	default:
		h := stdio.NewHandler(srv, stdio.WithIO(stdin, stdout), stdio.WithLogger(log))
		publish = h.Notify
		startWatch()
		return h.Serve(ctx)
	}
}

func openStorage(ctx context.Context, cfg Config) (storage.Storage, error) {
	if cfg.Storage == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		s, err := redisstore.New(redisstore.Config{Client: client, KeyPrefix: cfg.RedisKeyPrefix})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return s, nil
	}
	s, err := memory.New(cfg.MemoryMaxItems)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openBroker(ctx context.Context, cfg Config) (broker.Broker, error) {
	if cfg.Broker != "redis" {
		return memorybroker.New(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	b, err := redisbroker.New(redisbroker.Config{Client: client, KeyPrefix: cfg.RedisBrokerPrefix})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return b, nil
}

func serveHTTP(ctx context.Context, log *slog.Logger, addr string, h http.Handler) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	log.InfoContext(ctx, "http.listen", slog.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
