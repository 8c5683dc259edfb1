// Command bbsweb runs the HTTP façade: a thin second entry point into the
// same SQLite store the radio server (cmd/bbsd) uses, for browser
// dashboards and off-radio tooling.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/packetbbs/core/internal/bbsstore"
	"github.com/packetbbs/core/internal/config"
	"github.com/packetbbs/core/internal/httpapi"
)

const shutdownGrace = 5 * time.Second

func main() {
	storePath := flag.String("db", "", "SQLite database path (overrides PS_APP_STORE_PATH)")
	addr := flag.String("addr", "", "HTTP listen address (overrides PS_APP_ADDR)")
	flag.Parse()

	cfg, err := config.LoadHTTP()
	if err != nil {
		log.Fatal().Err(err).Msg("bbsweb: load config")
	}
	if *storePath != "" {
		cfg.StorePath = *storePath
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if addr, err := os.ReadFile(cfg.ZeoAddressFile); err == nil {
		log.Info().Str("zeo_address", strings.TrimSpace(string(addr))).Msg("bbsweb: store server advertised")
	}

	store, err := bbsstore.Open(cfg.StorePath)
	if err != nil {
		log.Fatal().Err(err).Msg("bbsweb: open store")
	}
	defer store.Close()

	// Seed the operator name from the environment if the store has none
	// yet; the radio side's config stays authoritative once set.
	if cfg.Operator != "" {
		if err := store.Transaction(func(tx *bbsstore.Tx) error {
			c, err := tx.GetConfig()
			if err != nil || c.Operator != "" {
				return err
			}
			c.Operator = cfg.Operator
			return tx.SetConfig(c)
		}); err != nil {
			log.Error().Err(err).Msg("bbsweb: seed operator")
		}
	}

	srv := httpapi.New(store, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info().Msg("bbsweb: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("bbsweb: shutdown")
		}
	}()

	log.Info().Str("addr", cfg.Addr).Str("store", cfg.StorePath).Msg("bbsweb: listening")
	if err := srv.Start(cfg.Addr); err != nil {
		log.Fatal().Err(err).Msg("bbsweb: serve")
	}
}
