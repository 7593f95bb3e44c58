package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/docopt/docopt-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"collabtext/internal/access"
	"collabtext/internal/api"
	"collabtext/internal/auth"
	"collabtext/internal/config"
	"collabtext/internal/discovery"
	"collabtext/internal/logging"
	"collabtext/internal/presence"
	"collabtext/internal/room"
	"collabtext/internal/session"
	"collabtext/internal/store"
	"collabtext/internal/store/boltstore"
	"collabtext/internal/store/postgres"
	"collabtext/internal/suggest"
)

const usage = `CollabText sync server.

Usage:
  collabtext serve [--addr=<addr>] [--store=<driver>] [--bolt-path=<path>] [--broadcast=<backend>] [--presence=<backend>] [--log-level=<level>] [--pretty] [--mdns]
  collabtext token <user_id> <username> [--ttl=<duration>]
  collabtext peers [--timeout=<duration>]
  collabtext -h | --help

Options:
  -h --help              Show this screen.
  --addr=<addr>          Listen address.
  --store=<driver>       Document store: postgres, bolt or memory.
  --bolt-path=<path>     Database file for the bolt store.
  --broadcast=<backend>  Room fanout: redis or local.
  --presence=<backend>   Presence tracking: redis or memory.
  --log-level=<level>    zerolog level.
  --pretty               Human readable console logs.
  --mdns                 Advertise the server over mDNS.
  --ttl=<duration>       Token lifetime [default: 24h].
  --timeout=<duration>   How long to listen for peers [default: 3s].

Settings not given on the command line are read from the environment
(COLLABTEXT_ADDR, REDIS_ADDR, DATABASE_URL, COLLABTEXT_STORE, ...).
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg := config.FromEnv()
	applyFlags(&cfg, opts)

	log, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogPretty)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	switch {
	case flag(opts, "token"):
		err = issueToken(cfg, opts)
	case flag(opts, "peers"):
		err = listPeers(opts, log)
	default:
		err = serve(cfg, log)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("collabtext")
	}
}

func flag(opts docopt.Opts, key string) bool {
	b, _ := opts.Bool(key)
	return b
}

func str(opts docopt.Opts, key string) (string, bool) {
	s, ok := opts[key].(string)
	return s, ok && s != ""
}

// applyFlags overrides environment settings with explicit options.
func applyFlags(cfg *config.Config, opts docopt.Opts) {
	if v, ok := str(opts, "--addr"); ok {
		cfg.Addr = v
	}
	if v, ok := str(opts, "--store"); ok {
		cfg.Store = v
	}
	if v, ok := str(opts, "--bolt-path"); ok {
		cfg.BoltPath = v
	}
	if v, ok := str(opts, "--broadcast"); ok {
		cfg.Broadcast = v
	}
	if v, ok := str(opts, "--presence"); ok {
		cfg.Presence = v
	}
	if v, ok := str(opts, "--log-level"); ok {
		cfg.LogLevel = v
	}
	if flag(opts, "--pretty") {
		cfg.LogPretty = true
	}
	if flag(opts, "--mdns") {
		cfg.MDNS = true
	}
}

func issueToken(cfg config.Config, opts docopt.Opts) error {
	if cfg.JWTSecret == "" {
		return errors.New("COLLABTEXT_JWT_SECRET is required")
	}
	rawID, _ := str(opts, "<user_id>")
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %q", rawID)
	}
	name, _ := str(opts, "<username>")
	rawTTL, _ := str(opts, "--ttl")
	ttl, err := time.ParseDuration(rawTTL)
	if err != nil {
		return fmt.Errorf("invalid ttl: %w", err)
	}
	token, err := auth.NewAuthenticator([]byte(cfg.JWTSecret)).Issue(store.User{ID: store.UserID(id), Username: name}, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func listPeers(opts docopt.Opts, log zerolog.Logger) error {
	raw, _ := str(opts, "--timeout")
	timeout, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	peers, err := discovery.Browse(context.Background(), timeout, log)
	if err != nil {
		return err
	}
	for _, p := range peers {
		fmt.Printf("%s\t%s:%d\n", p.Instance, p.Host, p.Port)
	}
	return nil
}

// retry runs connect with exponential backoff so the server can start
// before its dependencies are ready.
func retry(ctx context.Context, log zerolog.Logger, what string, connect func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 8), ctx)
	return backoff.RetryNotify(connect, b, func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msgf("Could not connect to %s", what)
	})
}

func connectRedis(ctx context.Context, cfg config.Config, log zerolog.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	err := retry(ctx, log, "Redis", func() error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis successfully.")
	return rdb, nil
}

func openStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (store.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn().Msg("Using in-memory document store; documents are lost on restart")
		return store.NewMemory(), nil
	case config.StoreBolt:
		s, err := boltstore.Open(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.BoltPath).Msg("Opened bolt store.")
		return s, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	err = retry(ctx, log, "PostgreSQL", func() error {
		return pool.Ping(ctx)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	s, err := postgres.New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	log.Info().Msg("Connected to PostgreSQL successfully.")
	return s, nil
}

func serve(cfg config.Config, log zerolog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	docs, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer docs.Close()

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		if rdb, err = connectRedis(ctx, cfg, log); err != nil {
			return err
		}
		defer rdb.Close()
	}

	var group room.Group = room.NewRegistry(log)
	if cfg.Broadcast == config.BackendRedis {
		group = room.NewRedis(rdb)
	}
	var tracker presence.Tracker = presence.NewMemory()
	if cfg.Presence == config.BackendRedis {
		tracker = presence.NewRedis(rdb)
	}

	engine := session.New(session.Config{
		Store:     docs,
		Policy:    access.NewDocumentPolicy(docs),
		Presence:  tracker,
		Group:     group,
		Suggester: suggest.Rules{},
		Logger:    log,
	})
	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: api.New(api.Config{
			Engine:   engine,
			Store:    docs,
			Presence: tracker,
			Auth:     auth.NewAuthenticator([]byte(cfg.JWTSecret)),
			Logger:   log,
		}).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.MDNS {
		port, err := cfg.Port()
		if err != nil {
			return fmt.Errorf("mDNS needs a numeric port: %w", err)
		}
		mdns, err := discovery.Advertise(port, log)
		if err != nil {
			return err
		}
		defer mdns.Shutdown()
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("CollabText sync server starting")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("closing sessions")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
