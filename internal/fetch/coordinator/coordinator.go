// Package coordinator drives a sharded, parallel history export.
//
// One export job resolves the target's ID bounds with two O(1) probes,
// partitions the range across the available gateway connections, and
// runs one paginated fetch loop per shard. Shards are genuinely
// parallel: each owns its own connection, and one shard's failure
// never stops its siblings.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/harvester/internal/cache/dedup"
	"github.com/vietddude/harvester/internal/cache/peercache"
	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/fetch/admission"
	"github.com/vietddude/harvester/internal/fetch/backoff"
	"github.com/vietddude/harvester/internal/fetch/metrics"
	"github.com/vietddude/harvester/internal/fetch/router"
)

// Conn is one usable gateway connection. Sourced externally; the
// engine only requires one per shard.
type Conn interface {
	Name() string
	Zone() int
	ResolvePeer(ctx context.Context, target string) (*domain.PeerDescriptor, error)
	NewestMessage(ctx context.Context, peer *domain.PeerDescriptor) (domain.MessageID, error)
	OldestMessage(ctx context.Context, peer *domain.PeerDescriptor) (domain.MessageID, error)
	History(ctx context.Context, peer *domain.PeerDescriptor, offsetID domain.MessageID, limit int) ([]domain.Message, error)
	Download(ctx context.Context, remoteID, destDir string) (string, error)
	Close() error
}

// Sink receives fetched messages per shard. Within one shard, IDs
// arrive strictly decreasing; no cross-shard order is guaranteed, so a
// downstream collaborator that needs global order must merge streams
// itself.
type Sink interface {
	WriteMessages(ctx context.Context, target string, shard int, msgs []domain.Message) error
}

// Journal optionally records ranges a shard could not finish so an
// operator can re-drive them later.
type Journal interface {
	RecordFailedRange(ctx context.Context, target string, start, end int64) error
}

// Config holds per-job inputs supplied by the CLI/config collaborator.
type Config struct {
	Target           string
	PageSize         int
	MaxAttempts      int
	MinID            domain.MessageID // floor override, 0 = full history
	MaxID            domain.MessageID // ceiling override, 0 = newest message
	ZoneHint         int
	DownloadDir      string
	FetchAttachments bool
}

// ShardResult is the per-shard outcome exposed to the caller.
type ShardResult struct {
	Shard      Shard
	Connection string
	Items      int64
	Pages      int64
	Elapsed    time.Duration
	Err        error
}

// Result aggregates an export job.
type Result struct {
	JobID          string
	Target         string
	Status         domain.JobStatus
	Items          int64
	Shards         []ShardResult
	Elapsed        time.Duration
	MessagesPerSec float64
}

// Options wires the coordinator's collaborators.
type Options struct {
	Conns      []Conn
	Classifier *backoff.Classifier
	Gates      *admission.Gates
	Peers      *peercache.Cache
	Dedup      *dedup.Cache // optional
	Sink       Sink
	Journal    Journal // optional
	Logger     *slog.Logger
}

// Coordinator runs export jobs. One coordinator runs one job at a
// time; the classifier and peer cache are shared across its shard
// workers and are internally synchronized.
type Coordinator struct {
	conns      []Conn
	classifier *backoff.Classifier
	gates      *admission.Gates
	peers      *peercache.Cache
	dedup      *dedup.Cache
	sink       Sink
	journal    Journal
	log        *slog.Logger

	mu    sync.Mutex
	state State

	// sleep is swappable so tests do not wait out real backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a coordinator over the given connections.
func New(opts Options) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = slog.Default().With("component", "coordinator")
	}
	return &Coordinator{
		conns:      opts.Conns,
		classifier: opts.Classifier,
		gates:      opts.Gates,
		peers:      opts.Peers,
		dedup:      opts.Dedup,
		sink:       opts.Sink,
		journal:    opts.Journal,
		log:        log,
		state:      StateIdle,
		sleep:      sleepCtx,
	}
}

// State returns the coordinator's current job state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.log.Debug("Job state changed", "state", s.String())
}

// Run executes one export job. Teardown (closing every connection)
// happens on every exit path, success or failure.
func (c *Coordinator) Run(ctx context.Context, cfg Config) (*Result, error) {
	if len(c.conns) == 0 {
		return nil, fmt.Errorf("no connections available")
	}
	if cfg.PageSize < 1 {
		cfg.PageSize = 100
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 5
	}

	start := time.Now()
	result := &Result{
		JobID:  uuid.NewString(),
		Target: cfg.Target,
	}

	defer c.closeConns()
	defer metrics.ShardsActive.WithLabelValues(cfg.Target).Set(0)

	// Resolving: one identity resolution plus two O(1) boundary probes.
	c.setState(StateResolving)

	peer, err := c.resolveTarget(ctx, cfg)
	if err != nil {
		c.setState(StateFailed)
		return nil, fmt.Errorf("resolve %s: %w", cfg.Target, err)
	}

	newest, err := retryCall(ctx, c, "messages.newest", cfg.MaxAttempts, func(callCtx context.Context) (domain.MessageID, error) {
		return c.conns[0].NewestMessage(callCtx, peer)
	})
	if err != nil {
		c.setState(StateFailed)
		return nil, fmt.Errorf("probe newest message: %w", err)
	}
	if newest == 0 {
		// Empty history; nothing to shard.
		c.setState(StateDone)
		result.Status = domain.JobStatusDone
		result.Elapsed = time.Since(start)
		return result, nil
	}
	if cfg.MaxID > 0 && cfg.MaxID < newest {
		// Bounded job, e.g. re-driving a journaled failed range.
		newest = cfg.MaxID
	}

	oldest, err := retryCall(ctx, c, "messages.oldest", cfg.MaxAttempts, func(callCtx context.Context) (domain.MessageID, error) {
		return c.conns[0].OldestMessage(callCtx, peer)
	})
	if err != nil {
		c.setState(StateFailed)
		return nil, fmt.Errorf("probe oldest message: %w", err)
	}

	effectiveMin := oldest
	if cfg.MinID > effectiveMin {
		effectiveMin = cfg.MinID
	}

	// Sharding: partition the span and bind each shard to its own
	// connection, zone-matched connections first.
	c.setState(StateSharding)

	shards := ComputeShards(effectiveMin, newest, len(c.conns))
	if len(shards) == 0 {
		c.setState(StateDone)
		result.Status = domain.JobStatusDone
		result.Elapsed = time.Since(start)
		return result, nil
	}

	targetZone := peer.Zone
	if targetZone == 0 {
		targetZone = cfg.ZoneHint
	}
	order := router.PrioritizeByZone(c.workerDescriptors(), targetZone)
	for i := range shards {
		shards[i].Worker = order[i%len(order)]
	}

	c.log.Info("Sharded history",
		"target", cfg.Target,
		"min_id", effectiveMin, "max_id", newest,
		"shards", len(shards), "page_size", cfg.PageSize)

	// Fetching: one task per shard, each on its own connection.
	c.setState(StateFetching)

	results := make([]ShardResult, len(shards))
	var wg sync.WaitGroup
	for i, shard := range shards {
		wg.Add(1)
		metrics.ShardsActive.WithLabelValues(cfg.Target).Inc()
		go func(i int, shard Shard) {
			defer wg.Done()
			defer metrics.ShardsActive.WithLabelValues(cfg.Target).Dec()
			results[i] = c.fetchShard(ctx, cfg, peer, shard)
		}(i, shard)
	}

	// Draining: every shard is awaited regardless of outcome.
	c.setState(StateDraining)
	wg.Wait()

	failed := 0
	for _, sr := range results {
		result.Items += sr.Items
		if sr.Err != nil {
			failed++
		}
	}
	result.Shards = results
	result.Elapsed = time.Since(start)
	if result.Elapsed > 0 {
		result.MessagesPerSec = float64(result.Items) / result.Elapsed.Seconds()
	}

	if failed == len(results) {
		c.setState(StateFailed)
		result.Status = domain.JobStatusFailed
	} else {
		c.setState(StateDone)
		result.Status = domain.JobStatusDone
	}

	c.log.Info("Export job finished",
		"job_id", result.JobID,
		"status", string(result.Status),
		"items", result.Items,
		"failed_shards", failed,
		"elapsed", result.Elapsed.Round(time.Millisecond),
		"rate", fmt.Sprintf("%.1f msg/s", result.MessagesPerSec))

	return result, nil
}

// resolveTarget turns the target identifier into a routable peer
// descriptor, consulting the resolution cache before going remote.
func (c *Coordinator) resolveTarget(ctx context.Context, cfg Config) (*domain.PeerDescriptor, error) {
	if raw, err := strconv.ParseInt(cfg.Target, 10, 64); err == nil {
		if cached := c.peers.Get(domain.PeerID(raw)); cached != nil {
			metrics.CacheHits.WithLabelValues("peer").Inc()
			return cached, nil
		}
		metrics.CacheMisses.WithLabelValues("peer").Inc()
	}

	peer, err := retryCall(ctx, c, "contacts.resolve", cfg.MaxAttempts, func(callCtx context.Context) (*domain.PeerDescriptor, error) {
		return c.conns[0].ResolvePeer(callCtx, cfg.Target)
	})
	if err != nil {
		return nil, err
	}

	c.peers.Set(peer.ID, peer)
	return peer, nil
}

// fetchShard pages backward through one shard's range on its own
// connection until the range is drained or the shard fails.
func (c *Coordinator) fetchShard(ctx context.Context, cfg Config, peer *domain.PeerDescriptor, shard Shard) ShardResult {
	conn := c.conns[shard.Worker]
	opName := fmt.Sprintf("messages.history/shard-%d", shard.Index)
	log := c.log.With("shard", shard.Index, "connection", conn.Name())

	res := ShardResult{Shard: shard, Connection: conn.Name()}
	start := time.Now()
	defer func() {
		res.Elapsed = time.Since(start)
		if res.Err != nil {
			log.Warn("Shard failed",
				"items", res.Items, "cursor", res.Shard.Cursor, "error", res.Err)
			c.journalFailure(cfg.Target, res.Shard)
		} else {
			log.Debug("Shard drained", "items", res.Items, "pages", res.Pages)
		}
	}()

	cursor := shard.End + 1
	attempt := 0

	for cursor > shard.Start {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		page, err := conn.History(ctx, peer, cursor, cfg.PageSize)
		if err != nil {
			if domain.IsPermanent(err) {
				res.Err = err
				return res
			}
			if attempt+1 >= cfg.MaxAttempts {
				res.Err = fmt.Errorf("page failed after %d attempts: %w", cfg.MaxAttempts, err)
				return res
			}

			delay := c.classifier.HandleError(err, opName, attempt)
			metrics.BackoffSeconds.WithLabelValues(opName).Add(delay)
			attempt++
			log.Debug("Page failed, backing off",
				"cursor", cursor, "attempt", attempt, "delay_s", delay, "error", err)

			if sleepErr := c.sleep(ctx, time.Duration(delay*float64(time.Second))); sleepErr != nil {
				res.Err = sleepErr
				return res
			}
			continue
		}
		attempt = 0

		res.Pages++
		metrics.PagesFetched.WithLabelValues(cfg.Target, strconv.Itoa(shard.Index)).Inc()

		kept := page[:0:0]
		lowest := cursor
		for _, msg := range page {
			if msg.ID < lowest {
				lowest = msg.ID
			}
			if msg.ID >= shard.Start && msg.ID < cursor {
				kept = append(kept, msg)
			}
		}

		if len(kept) > 0 {
			if err := c.deliver(ctx, cfg, conn, shard.Index, kept); err != nil {
				res.Err = err
				return res
			}
			res.Items += int64(len(kept))
			metrics.MessagesExported.WithLabelValues(cfg.Target).Add(float64(len(kept)))
		}

		if len(page) == 0 || len(page) < cfg.PageSize {
			// Short page: this part of the history is drained.
			return res
		}
		if lowest >= cursor {
			// Defend the strictly-decreasing cursor invariant against
			// a misbehaving gateway.
			res.Err = fmt.Errorf("gateway returned non-decreasing page at cursor %d", cursor)
			return res
		}

		cursor = lowest
		res.Shard.Cursor = cursor
	}

	return res
}

// deliver pushes one page of messages through the processing gate into
// the sink, downloading attachments first when enabled.
func (c *Coordinator) deliver(ctx context.Context, cfg Config, conn Conn, shardIndex int, msgs []domain.Message) error {
	if cfg.FetchAttachments {
		for i := range msgs {
			if msgs[i].Attachment == nil {
				continue
			}
			// Attachment failures degrade the export, not the shard.
			if err := c.fetchAttachment(ctx, cfg, conn, shardIndex, &msgs[i]); err != nil {
				c.log.Warn("Attachment skipped",
					"shard", shardIndex, "message", msgs[i].ID, "error", err)
			}
		}
	}

	return c.gates.With(ctx, admission.Processing, func() error {
		if err := c.sink.WriteMessages(ctx, cfg.Target, shardIndex, msgs); err != nil {
			return fmt.Errorf("write messages: %w", err)
		}
		return nil
	})
}

// fetchAttachment materializes one attachment under the download gate
// and deduplicates it by content hash.
func (c *Coordinator) fetchAttachment(ctx context.Context, cfg Config, conn Conn, shardIndex int, msg *domain.Message) error {
	att := msg.Attachment
	opName := fmt.Sprintf("files.download/shard-%d", shardIndex)

	for attempt := 0; ; attempt++ {
		err := c.gates.With(ctx, admission.Download, func() error {
			path, err := conn.Download(ctx, att.RemoteID, cfg.DownloadDir)
			if err != nil {
				return err
			}
			c.dedupArtifact(ctx, path)
			return nil
		})
		if err == nil {
			return nil
		}
		if domain.IsPermanent(err) || attempt+1 >= cfg.MaxAttempts {
			return err
		}

		delay := c.classifier.HandleError(err, opName, attempt)
		metrics.BackoffSeconds.WithLabelValues(opName).Add(delay)
		if sleepErr := c.sleep(ctx, time.Duration(delay*float64(time.Second))); sleepErr != nil {
			return sleepErr
		}
	}
}

// dedupArtifact hashes a freshly materialized file and drops it when
// identical content is already stored.
func (c *Coordinator) dedupArtifact(ctx context.Context, path string) {
	if c.dedup == nil {
		return
	}

	var hash string
	// Hashing is bulk I/O over local disk, gated separately from
	// network downloads.
	_ = c.gates.With(ctx, admission.BulkIO, func() error {
		hash = c.dedup.ComputeHash(ctx, path)
		return nil
	})
	if hash == "" {
		return
	}

	if existing := c.dedup.CheckCache(hash); existing != "" && existing != path {
		metrics.CacheHits.WithLabelValues("dedup").Inc()
		// Keep the per-message path but share the canonical bytes.
		if err := linkDuplicate(existing, path); err != nil {
			c.log.Warn("Duplicate not linked to canonical artifact",
				"path", path, "canonical", existing, "error", err)
		}
		return
	}
	metrics.CacheMisses.WithLabelValues("dedup").Inc()

	if err := c.dedup.AddToCache(hash, path); err != nil {
		c.log.Warn("Dedup record not persisted", "path", path, "error", err)
	}
}

// linkDuplicate replaces the freshly downloaded duplicate at path with
// a hard link to the canonical artifact, copying when the filesystem
// cannot link.
func linkDuplicate(canonical, path string) error {
	if err := os.Remove(path); err != nil {
		return err
	}
	if err := os.Link(canonical, path); err == nil {
		return nil
	}

	src, err := os.Open(canonical)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return err
	}
	return dst.Close()
}

func (c *Coordinator) journalFailure(target string, shard Shard) {
	if c.journal == nil {
		return
	}

	// Journal the unfetched remainder of the shard's range. Use a
	// short deadline so teardown is never held hostage by a slow
	// journal backend.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := int64(shard.Start)
	end := int64(shard.Cursor)
	if err := c.journal.RecordFailedRange(ctx, target, start, end); err != nil {
		c.log.Warn("Failed range not journaled",
			"shard", shard.Index, "start", start, "end", end, "error", err)
	}
}

func (c *Coordinator) workerDescriptors() []domain.WorkerDescriptor {
	descs := make([]domain.WorkerDescriptor, len(c.conns))
	for i, conn := range c.conns {
		descs[i] = domain.WorkerDescriptor{
			Index:       i,
			Name:        conn.Name(),
			RoutingZone: conn.Zone(),
		}
	}
	return descs
}

func (c *Coordinator) closeConns() {
	for _, conn := range c.conns {
		if err := conn.Close(); err != nil {
			c.log.Warn("Connection close failed", "connection", conn.Name(), "error", err)
		}
	}
}

// retryCall wraps one remote call in the classifier-driven retry loop.
func retryCall[T any](ctx context.Context, c *Coordinator, opName string, maxAttempts int, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if domain.IsPermanent(err) {
			return zero, err
		}
		if attempt == maxAttempts-1 {
			break
		}

		delay := c.classifier.HandleError(err, opName, attempt)
		metrics.BackoffSeconds.WithLabelValues(opName).Add(delay)
		if sleepErr := c.sleep(ctx, time.Duration(delay*float64(time.Second))); sleepErr != nil {
			return zero, sleepErr
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", opName, maxAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
