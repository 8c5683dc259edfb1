// Command bbsd runs the packet-radio BBS server: the dispatcher, its
// domain handlers, the job worker and container orchestrator, and
// whichever transport backends are enabled, all bound to one SQLite store.
package main

import (
	"context"
	"flag"
	"net"
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
	"github.com/packetbbs/core/internal/dispatch"
	"github.com/packetbbs/core/internal/handlers"
	"github.com/packetbbs/core/internal/jobqueue"
	"github.com/packetbbs/core/internal/metrics"
	"github.com/packetbbs/core/internal/orchestrator"
	"github.com/packetbbs/core/internal/storerpc"
	"github.com/packetbbs/core/internal/transport"
)

const shutdownGrace = 10 * time.Second

func main() {
	storePath := flag.String("db", "", "SQLite database path (overrides PS_STORE_PATH)")
	listenAddr := flag.String("listen", "", "address for the client-server-mode store RPC listener (empty disables it)")
	flag.Parse()

	cfg, err := config.LoadRadio()
	if err != nil {
		log.Fatal().Err(err).Msg("bbsd: load config")
	}
	if *storePath != "" {
		cfg.StorePath = *storePath
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	store, err := bbsstore.Open(cfg.StorePath)
	if err != nil {
		log.Fatal().Err(err).Msg("bbsd: open store")
	}
	defer store.Close()

	d := dispatch.New(store)
	d.Routes[""] = handlers.Root
	d.Routes["user"] = handlers.User
	d.Routes["bulletin"] = handlers.Bulletin
	d.Routes["message"] = handlers.Message
	d.Routes["object"] = handlers.Object
	d.Routes["job"] = handlers.Job

	var jobsCfg bbsstore.JobsConfig
	if err := store.Transaction(func(tx *bbsstore.Tx) error {
		c, err := tx.GetConfig()
		jobsCfg = c.JobsConfig
		return err
	}); err != nil {
		log.Fatal().Err(err).Msg("bbsd: read jobs config")
	}
	if jobsCfg.Image == "" {
		jobsCfg.Image = cfg.JobsImage
	}
	if jobsCfg.NamePrefix == "" {
		jobsCfg.NamePrefix = cfg.JobsNamePrefix
	}
	if jobsCfg.MaxActiveJobs == 0 {
		jobsCfg.MaxActiveJobs = cfg.MaxActiveJobs
	}
	if jobsCfg.ContainerKeepalive == 0 {
		jobsCfg.ContainerKeepalive = cfg.ContainerKeepalive
	}
	if jobsCfg.DefaultTimeout == 0 {
		jobsCfg.DefaultTimeout = cfg.DefaultJobTimeout
	}
	if jobsCfg.MaxTimeout == 0 {
		jobsCfg.MaxTimeout = cfg.MaxJobTimeout
	}

	var engine orchestrator.Engine
	switch jobsCfg.Runner {
	case "", "docker", "podman":
		// Podman's Docker-compatible socket satisfies the same client.
		engine, err = orchestrator.NewDockerEngine()
		if err != nil {
			log.Fatal().Err(err).Msg("bbsd: connect container engine")
		}
	default:
		log.Fatal().Str("runner", jobsCfg.Runner).Msg("bbsd: unknown jobs runner")
	}
	orch := orchestrator.New(engine, orchestrator.PolicyFromConfig(jobsCfg))
	orch.Start()

	worker := jobqueue.New(store, orch)
	d.QuickHint = worker.Hint

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go worker.Run(ctx)
	go orch.Run(ctx)
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("bbsd: metrics listening")
		if err := metrics.Serve(cfg.MetricsAddr); err != nil {
			log.Error().Err(err).Msg("bbsd: metrics server")
		}
	}()

	if *listenAddr != "" {
		ln, err := net.Listen("tcp", *listenAddr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", *listenAddr).Msg("bbsd: store RPC listen")
		}
		if err := os.WriteFile(cfg.ZeoAddressFile, []byte(ln.Addr().String()), 0o644); err != nil {
			log.Error().Err(err).Str("file", cfg.ZeoAddressFile).Msg("bbsd: write zeo address file")
		}
		go func() {
			log.Info().Str("addr", ln.Addr().String()).Msg("bbsd: store RPC listening")
			if err := storerpc.Serve(ctx, store, ln); err != nil {
				log.Error().Err(err).Msg("bbsd: store RPC server")
			}
		}()
	}

	var bouncer *transport.Bouncer
	if cfg.DirectoryRoot != "" {
		if err := os.MkdirAll(cfg.DirectoryRoot, 0o755); err != nil {
			log.Fatal().Err(err).Str("root", cfg.DirectoryRoot).Msg("bbsd: create directory transport root")
		}
		bouncer = transport.NewBouncer(cfg.DirectoryRoot, func(dirName string) {
			acceptDirectoryPeer(ctx, d, cfg.DirectoryRoot, dirName)
		})
		go bouncer.Run()
		log.Info().Str("root", cfg.DirectoryRoot).Msg("bbsd: directory bouncer watching for rendezvous peers")
	}

	log.Info().Str("store", cfg.StorePath).Bool("tnc", cfg.TNCEnabled).Msg("bbsd: started")
	<-ctx.Done()
	log.Info().Msg("bbsd: shutting down")

	if bouncer != nil {
		bouncer.Stop()
	}
	worker.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	orch.Stop(shutdownCtx)
}

// acceptDirectoryPeer builds the server-side Directory transport for a
// rendezvous directory the Bouncer just discovered ("<CLIENT>--<SERVER>")
// and attaches it to the dispatcher, mirroring an accept-loop-per-connection
// shape for a filesystem-rendezvous transport instead of a network listener.
func acceptDirectoryPeer(ctx context.Context, d *dispatch.Dispatcher, root, dirName string) {
	parts := strings.SplitN(dirName, "--", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		log.Warn().Str("dir", dirName).Msg("bbsd: ignoring malformed rendezvous directory")
		return
	}
	clientCall, serverCall := parts[0], parts[1]
	dt, err := transport.NewDirectory(root, serverCall, clientCall, true)
	if err != nil {
		log.Error().Err(err).Str("peer", clientCall).Msg("bbsd: open directory transport")
		return
	}
	d.Attach(dt)
	go dt.Run()
	go func() {
		<-ctx.Done()
		_ = dt.Close()
	}()
}
