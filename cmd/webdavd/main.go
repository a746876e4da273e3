// Command webdavd serves a filesystem subtree over WebDAV (RFC 4918).
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	webdav "github.com/dav-project/webdavd"
)

func main() {
	configPath := flag.String("config", "webdavd.yaml", "path to config file")
	listen := flag.String("listen", "", "override the config's listen address")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := webdav.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}

	normalize, err := cfg.NormalizeForm()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid unicode_normalize")
	}

	fs, err := webdav.NewLocalFilesystem(cfg.RootDir)
	if err != nil {
		log.Fatal().Err(err).Msg("open root directory")
	}
	defer fs.Close()

	var locks webdav.LockManager
	if cfg.LockDB != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		locks, err = webdav.OpenSQLiteLockManager(ctx, cfg.LockDB, cfg.LockMaxTimeDuration(), cfg.LockWaitDuration())
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("open lock store")
		}
		defer locks.Close()
	} else {
		log.Warn().Msg("lock_db unset, class-2 locking disabled")
	}

	resolver := &webdav.PathResolver{
		FS:        fs,
		Locks:     locks,
		Normalize: normalize,
		DenyRead:  cfg.RestrictAccess,
		DenyWrite: cfg.RestrictWrite,
	}
	gate := &webdav.ConditionalGate{Resolver: resolver, Locks: locks, Prefix: cfg.Prefix}
	props := &webdav.PropertyRegistry{FS: fs, Locks: locks}

	server := &webdav.Server{
		FS:         fs,
		Resolver:   resolver,
		Locks:      locks,
		Gate:       gate,
		Props:      props,
		Prefix:     cfg.Prefix,
		MaxTimeout: cfg.LockMaxTimeDuration(),
	}

	handler := &webdav.Handler{
		Server: server,
		Logger: func(status int, method, path string, err error) {
			evt := log.Info()
			if err != nil {
				evt = log.Error().Err(err)
			}
			evt.Int("status", status).Str("method", method).Str("path", path).Msg("request")
		},
	}

	app := fiber.New(fiber.Config{
		RequestMethods: append(fiber.DefaultMethods[:], webdav.Methods...),
	})
	app.Use(logger.New())
	app.All("/*", handler.ServeFiber)

	log.Info().Str("addr", cfg.Listen).Str("root", cfg.RootDir).Msg("webdavd listening")
	if err := app.Listen(cfg.Listen); err != nil {
		log.Fatal().Err(err).Msg("listen")
	}
}
