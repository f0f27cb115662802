// Package control wires the fetch engine's components into a runnable
// export application.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/harvester/internal/cache/dedup"
	"github.com/vietddude/harvester/internal/cache/peercache"
	"github.com/vietddude/harvester/internal/core/config"
	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/fetch/admission"
	"github.com/vietddude/harvester/internal/fetch/backoff"
	"github.com/vietddude/harvester/internal/fetch/coordinator"
	"github.com/vietddude/harvester/internal/fetch/router"
	"github.com/vietddude/harvester/internal/infra/gateway"
	redisclient "github.com/vietddude/harvester/internal/infra/redis"
	"github.com/vietddude/harvester/internal/infra/storage"
	"github.com/vietddude/harvester/internal/infra/storage/memory"
	"github.com/vietddude/harvester/internal/infra/storage/postgres"
)

// Config holds the application configuration.
type Config struct {
	Port     int
	Target   config.TargetConfig
	Fetch    config.FetchConfig
	Sessions []config.SessionConfig
	Caches   config.CacheConfig
	Download config.DownloadConfig
	Redis    redisclient.Config
	Database postgres.Config
}

// Exporter owns one export run end to end.
type Exporter struct {
	cfg Config

	clients []*gateway.Client
	coord   *coordinator.Coordinator
	peers   *peercache.Cache
	dedupC  *dedup.Cache
	archive storage.ArchiveRepository
	journal *redisclient.Client
	server  *Server
	log     *slog.Logger
}

// archiveSink adapts the archive repository to the coordinator's
// per-shard sink contract.
type archiveSink struct {
	archive storage.ArchiveRepository
}

func (s *archiveSink) WriteMessages(ctx context.Context, target string, shard int, msgs []domain.Message) error {
	return s.archive.SaveMessages(ctx, target, msgs)
}

// NewExporter creates an Exporter with all dependencies initialized.
func NewExporter(cfg Config) (*Exporter, error) {
	if len(cfg.Sessions) == 0 {
		return nil, fmt.Errorf("at least one session is required")
	}

	log := slog.Default().With("component", "exporter")

	// 1. Gateway connections, one per session.
	clients := make([]*gateway.Client, len(cfg.Sessions))
	conns := make([]coordinator.Conn, len(cfg.Sessions))
	for i, s := range cfg.Sessions {
		c := gateway.NewClient(s.Name, s.Endpoint, s.Token, s.Zone, cfg.Fetch.RequestTimeout.Std())
		clients[i] = c
		conns[i] = c
	}

	// 2. Caches and admission gates.
	peers := peercache.New(cfg.Caches.PeerMaxSize, cfg.Caches.PeerTTL.Std())

	var dedupCache *dedup.Cache
	if cfg.Download.Enabled {
		var err error
		dedupCache, err = dedup.Load(cfg.Caches.DedupPath, cfg.Caches.DedupMaxEntries)
		if err != nil {
			return nil, fmt.Errorf("failed to load dedup cache: %w", err)
		}
	}

	gates := admission.NewGates(len(cfg.Sessions), cfg.Fetch.TranscodeWorkers)

	// 3. Archive backend: Postgres when configured, memory otherwise.
	var archive storage.ArchiveRepository
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		archive = postgres.NewArchiveRepo(db)
	} else {
		log.Warn("No database configured, archiving to memory only")
		archive = memory.NewArchive()
	}

	// 4. Optional failed-range journal.
	var journal *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		journal, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect journal: %w", err)
		}
	}

	coordOpts := coordinator.Options{
		Conns:      conns,
		Classifier: backoff.NewClassifier(),
		Gates:      gates,
		Peers:      peers,
		Dedup:      dedupCache,
		Sink:       &archiveSink{archive: archive},
		Logger:     slog.Default().With("component", "coordinator"),
	}
	if journal != nil {
		coordOpts.Journal = journal
	}
	coord := coordinator.New(coordOpts)

	e := &Exporter{
		cfg:     cfg,
		clients: clients,
		coord:   coord,
		peers:   peers,
		dedupC:  dedupCache,
		archive: archive,
		journal: journal,
		log:     log,
	}
	e.server = NewServer(e, cfg.Port)
	return e, nil
}

// Run prewarms the connections, executes the export job, and records
// its summary in the archive.
func (e *Exporter) Run(ctx context.Context) (*coordinator.Result, error) {
	go func() {
		if err := e.server.Start(); err != nil {
			e.log.Debug("Status server stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.server.Stop(shutdownCtx)
	}()

	// Warm every connection concurrently before the heavy fetching.
	workers := make([]*domain.WorkerDescriptor, len(e.clients))
	probers := make([]router.Prober, len(e.clients))
	for i, c := range e.clients {
		workers[i] = &domain.WorkerDescriptor{Index: i, Name: c.Name(), RoutingZone: c.Zone()}
		probers[i] = c
	}
	warmup := router.Prewarm(ctx, workers, probers, e.cfg.Target.Identifier, e.cfg.Fetch.PrewarmTimeout.Std())
	warmed := 0
	for _, ok := range warmup {
		if ok {
			warmed++
		}
	}
	e.log.Info("Connections prewarmed", "warmed", warmed, "total", len(e.clients))

	start := time.Now()
	result, err := e.coord.Run(ctx, coordinator.Config{
		Target:           e.cfg.Target.Identifier,
		PageSize:         e.cfg.Fetch.PageSize,
		MaxAttempts:      e.cfg.Fetch.MaxAttempts,
		MinID:            domain.MessageID(e.cfg.Target.MinID),
		ZoneHint:         e.cfg.Target.ZoneHint,
		DownloadDir:      e.cfg.Download.Dir,
		FetchAttachments: e.cfg.Download.Enabled,
	})
	if err != nil {
		return nil, err
	}

	failed := 0
	for _, sr := range result.Shards {
		if sr.Err != nil {
			failed++
		}
	}
	record := &domain.JobRecord{
		ID:           result.JobID,
		Target:       result.Target,
		Items:        result.Items,
		ShardCount:   len(result.Shards),
		FailedShards: failed,
		Status:       result.Status,
		StartedAt:    start,
		FinishedAt:   time.Now(),
	}
	if err := e.archive.SaveJob(ctx, record); err != nil {
		e.log.Warn("Job summary not recorded", "job_id", result.JobID, "error", err)
	}

	return result, nil
}

// Redrive pops journaled failed ranges and re-exports each one as a
// bounded job. One pass over the ranges present at the start: a range
// that fails again is re-journaled by the coordinator and left for the
// next invocation, so the loop always terminates.
func (e *Exporter) Redrive(ctx context.Context) error {
	if e.journal == nil {
		return fmt.Errorf("redrive requires a configured redis journal")
	}
	target := e.cfg.Target.Identifier

	pending, err := e.journal.Ranges(ctx, target)
	if err != nil {
		return fmt.Errorf("list journaled ranges: %w", err)
	}
	if len(pending) == 0 {
		e.log.Info("Journal empty, nothing to redrive", "target", target)
		return nil
	}

	for i := 0; i < len(pending); i++ {
		start, end, found, err := e.journal.PopRange(ctx, target)
		if err != nil {
			return fmt.Errorf("pop journaled range: %w", err)
		}
		if !found {
			return nil
		}

		e.log.Info("Redriving journaled range", "target", target, "start", start, "end", end)
		result, err := e.coord.Run(ctx, coordinator.Config{
			Target:           target,
			PageSize:         e.cfg.Fetch.PageSize,
			MaxAttempts:      e.cfg.Fetch.MaxAttempts,
			MinID:            domain.MessageID(start),
			MaxID:            domain.MessageID(end),
			ZoneHint:         e.cfg.Target.ZoneHint,
			DownloadDir:      e.cfg.Download.Dir,
			FetchAttachments: e.cfg.Download.Enabled,
		})
		if err != nil {
			return fmt.Errorf("redrive [%d,%d]: %w", start, end, err)
		}
		e.log.Info("Range redriven",
			"start", start, "end", end,
			"status", string(result.Status), "items", result.Items)
	}
	return nil
}

// JournalRanges lists the journaled failed ranges, or nil when no
// journal is configured.
func (e *Exporter) JournalRanges(ctx context.Context) ([]string, error) {
	if e.journal == nil {
		return nil, nil
	}
	return e.journal.Ranges(ctx, e.cfg.Target.Identifier)
}

// ClearJournal discards every journaled range for the target.
func (e *Exporter) ClearJournal(ctx context.Context) error {
	if e.journal == nil {
		return fmt.Errorf("no redis journal configured")
	}
	return e.journal.Clear(ctx, e.cfg.Target.Identifier)
}

// State returns the coordinator's current job state.
func (e *Exporter) State() coordinator.State {
	return e.coord.State()
}

// PeerCacheMetrics exposes the resolution cache snapshot.
func (e *Exporter) PeerCacheMetrics() peercache.Metrics {
	return e.peers.Metrics()
}

// DedupStats exposes the dedup cache snapshot; ok is false when
// attachment downloading is disabled.
func (e *Exporter) DedupStats() (dedup.Stats, bool) {
	if e.dedupC == nil {
		return dedup.Stats{}, false
	}
	return e.dedupC.Stats(), true
}

// Close releases the exporter's backends. Gateway connections are
// closed by the coordinator's own teardown.
func (e *Exporter) Close() error {
	var firstErr error
	if err := e.archive.Close(); err != nil {
		firstErr = err
	}
	if e.journal != nil {
		if err := e.journal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
