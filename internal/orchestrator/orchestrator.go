package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/packetbbs/core/internal/bbsstore"
	"github.com/packetbbs/core/internal/metrics"
)

// Policy holds the orchestrator's sizing and selection knobs.
type Policy struct {
	DefaultTimeout    time.Duration
	MaxTimeout        time.Duration
	Image             string
	MaxActiveJobs     int
	ContainerKeepalive time.Duration
	NamePrefix        string
}

// PolicyFromConfig adapts the store's JobsConfig to a Policy.
func PolicyFromConfig(c bbsstore.JobsConfig) Policy {
	return Policy{
		DefaultTimeout:    c.DefaultTimeout,
		MaxTimeout:        c.MaxTimeout,
		Image:             c.Image,
		MaxActiveJobs:     c.MaxActiveJobs,
		ContainerKeepalive: c.ContainerKeepalive,
		NamePrefix:        c.NamePrefix,
	}
}

// Orchestrator owns the live runner set and per-user container bookkeeping.
// Exactly one instance exists per server process; the job worker (internal
// /jobqueue) drives it.
type Orchestrator struct {
	engine Engine
	policy Policy

	mu             sync.Mutex
	started        bool
	runners        map[int64]*Runner // job id -> runner
	lastActivity   map[string]time.Time
	containerIDs   map[string]string // container name -> engine id
}

// New constructs an Orchestrator bound to engine with the given policy.
func New(engine Engine, policy Policy) *Orchestrator {
	return &Orchestrator{
		engine:       engine,
		policy:       policy,
		runners:      map[int64]*Runner{},
		lastActivity: map[string]time.Time{},
		containerIDs: map[string]string{},
	}
}

// Start marks the orchestrator as accepting new runners.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	o.started = true
	o.mu.Unlock()
}

// orphanSweepInterval paces the periodic scan for prefix-named containers
// the live map doesn't know about.
const orphanSweepInterval = 10 * time.Minute

// Run is the manager loop: it evicts idle containers on a short cadence
// and sweeps orphans roughly every ten minutes, until ctx is done. Run it
// in its own goroutine alongside the job worker.
func (o *Orchestrator) Run(ctx context.Context) {
	evict := time.NewTicker(500 * time.Millisecond)
	defer evict.Stop()
	sweep := time.NewTicker(orphanSweepInterval)
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-evict.C:
			o.EvictIdleContainers(ctx)
		case <-sweep.C:
			o.SweepOrphans(ctx)
		}
	}
}

// Stop signals shutdown: no new runners are admitted and every live
// container is asked to exit by touching /root/ENDNOW, which ends its
// entrypoint loop. It does not block on containers actually stopping.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	o.started = false
	ids := make([]string, 0, len(o.containerIDs))
	for _, id := range o.containerIDs {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		if err := o.engine.PutArchive(ctx, id, "/root", endnowTarGz()); err != nil {
			log.Warn().Err(err).Str("container", id).Msg("orchestrator: signal shutdown")
		}
	}
}

// RunnersAvailable reports whether a new runner would be admitted:
// started and fewer in-process runners than MaxActiveJobs.
func (o *Orchestrator) RunnersAvailable() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.started && len(o.runners) < o.policy.MaxActiveJobs
}

// NewRunner creates (or reuses) the caller's container and starts a goroutine
// that execs job.Command inside it, returning immediately; the runner's
// progress is observed via Status/Collect.
func (o *Orchestrator) NewRunner(job bbsstore.Job, ownerCallsign string) (*Runner, error) {
	o.mu.Lock()
	if !o.started || len(o.runners) >= o.policy.MaxActiveJobs {
		o.mu.Unlock()
		return nil, fmt.Errorf("orchestrator: no runner slot available")
	}
	o.mu.Unlock()

	containerName := o.policy.NamePrefix + strings.ToLower(ownerCallsign)
	id, err := o.ensureContainer(containerName, ownerCallsign)
	if err != nil {
		return nil, err
	}

	timeout := o.policy.DefaultTimeout
	if o.policy.MaxTimeout > 0 && timeout > o.policy.MaxTimeout {
		timeout = o.policy.MaxTimeout
	}
	r := newRunner(o.engine, id, ownerCallsign, job, timeout)
	o.mu.Lock()
	o.runners[job.ID] = r
	o.lastActivity[containerName] = time.Now()
	o.mu.Unlock()

	r.start()
	return r, nil
}

func (o *Orchestrator) ensureContainer(name, ownerCallsign string) (string, error) {
	o.mu.Lock()
	if id, ok := o.containerIDs[name]; ok {
		o.mu.Unlock()
		return id, nil
	}
	o.mu.Unlock()

	ctx := context.Background()
	id, err := o.engine.Create(ctx, ContainerSpec{
		Name:  name,
		Image: o.policy.Image,
		Env:   map[string]string{"PACKETSERVER_VERSION": "1", "PACKETSERVER_USER": ownerCallsign},
	})
	if err != nil {
		return "", err
	}
	if err := o.engine.Start(ctx, id); err != nil {
		return "", err
	}
	if err := runFirstRunSetup(ctx, o.engine, id, ownerCallsign); err != nil {
		return "", fmt.Errorf("orchestrator: first-run setup for %s: %w", name, err)
	}

	o.mu.Lock()
	o.containerIDs[name] = id
	count := len(o.containerIDs)
	o.mu.Unlock()
	metrics.ContainersActive.Set(float64(count))
	return id, nil
}

// Reap removes finished runners, returning the ones that completed so the
// caller (jobqueue) can reconcile their job rows.
func (o *Orchestrator) Reap() []*Runner {
	o.mu.Lock()
	defer o.mu.Unlock()
	var done []*Runner
	for id, r := range o.runners {
		if r.Finished() {
			done = append(done, r)
			delete(o.runners, id)
		}
	}
	return done
}

// EvictIdleContainers removes containers past the keepalive window with no
// in-process runner referencing them.
func (o *Orchestrator) EvictIdleContainers(ctx context.Context) {
	o.mu.Lock()
	active := map[string]bool{}
	for _, r := range o.runners {
		active[r.containerID] = true
	}
	var evict []string
	for name, last := range o.lastActivity {
		id := o.containerIDs[name]
		if active[id] {
			continue
		}
		if time.Since(last) > o.policy.ContainerKeepalive {
			evict = append(evict, name)
		}
	}
	o.mu.Unlock()

	for _, name := range evict {
		o.mu.Lock()
		id := o.containerIDs[name]
		delete(o.containerIDs, name)
		delete(o.lastActivity, name)
		count := len(o.containerIDs)
		o.mu.Unlock()
		metrics.ContainersActive.Set(float64(count))
		if err := o.engine.Stop(ctx, id); err != nil {
			log.Warn().Err(err).Str("container", name).Msg("orchestrator: evict stop")
		}
		if err := o.engine.Remove(ctx, id); err != nil {
			log.Warn().Err(err).Str("container", name).Msg("orchestrator: evict remove")
		}
	}
}

// SweepOrphans removes every engine container carrying the policy's name
// prefix that isn't in the live container map — leftovers from a crashed
// or restarted server.
func (o *Orchestrator) SweepOrphans(ctx context.Context) {
	names, err := o.engine.List(ctx, o.policy.NamePrefix)
	if err != nil {
		log.Warn().Err(err).Msg("orchestrator: sweep orphans list")
		return
	}
	o.mu.Lock()
	known := make(map[string]bool, len(o.containerIDs))
	for name := range o.containerIDs {
		known[name] = true
	}
	o.mu.Unlock()

	for _, name := range names {
		if known[name] {
			continue
		}
		log.Info().Str("container", name).Msg("orchestrator: removing orphan container")
		if err := o.engine.Remove(ctx, name); err != nil {
			log.Warn().Err(err).Str("container", name).Msg("orchestrator: remove orphan")
		}
	}
}
