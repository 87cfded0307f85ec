package indexer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"sora-dex-indexer/internal/aggregate"
	"sora-dex-indexer/internal/codec"
	"sora-dex-indexer/internal/domain"
	"sora-dex-indexer/internal/extract"
	"sora-dex-indexer/internal/observability"
	"sora-dex-indexer/internal/pricing"
	"sora-dex-indexer/internal/publish"
	"sora-dex-indexer/internal/storage"
	"sora-dex-indexer/internal/substrate"
)

// Options configures a Syncer.
type Options struct {
	Client      substrate.Client
	Reconnector *Reconnector // nil makes transport failures fatal
	Stores      storage.Stores
	Registry    *extract.Registry
	Oracle      *pricing.Oracle
	Aggregator  *aggregate.Aggregator // nil skips aggregation
	Publisher   publish.Publisher     // nil publishes nothing

	// Begin is the first block of an empty index. Default: 1.
	Begin int64
	// ForceBegin starts the first pass at Begin even when blocks are persisted.
	ForceBegin bool

	// Schema is auto, keyed, positional or legacy.
	Schema         string
	KeyedSinceSpec uint32

	Follow         bool
	FollowInterval time.Duration // Default: 60s
	ProgressEvery  int64         // Default: 1000 blocks

	NewSessionID func() string // Default: uuid.NewString
	Logger       *log.Logger
	ErrorLogger  *log.Logger // Default: Logger
}

// PassResult summarizes one pass over [From, Head).
type PassResult struct {
	Session    string
	From       int64
	Head       int64
	Blocks     int64
	Operations int
	Conflicts  int
}

// Syncer walks finalized blocks, persists their operations and refreshes the
// aggregates. It is single-threaded except for one in-flight block write.
type Syncer struct {
	client      substrate.Client
	reconnector *Reconnector
	stores      storage.Stores
	registry    *extract.Registry
	oracle      *pricing.Oracle
	aggregator  *aggregate.Aggregator
	publisher   publish.Publisher
	cache       *Cache
	mapper      *Mapper

	begin          int64
	forceBegin     bool
	schema         string
	keyedSinceSpec uint32
	follow         bool
	followInterval time.Duration
	progressEvery  int64
	newSessionID   func() string
	logger         *log.Logger
	errLogger      *log.Logger

	pending *pendingWrite
}

// pendingWrite is a block write running in the background.
type pendingWrite struct {
	block    int64
	done     chan struct{}
	err      error
	conflict bool
}

// NewSyncer creates a syncer.
func NewSyncer(opts Options) (*Syncer, error) {
	if opts.Client == nil {
		return nil, errors.New("syncer: client is required")
	}
	if opts.Registry == nil || opts.Oracle == nil {
		return nil, errors.New("syncer: registry and oracle are required")
	}
	if opts.Stores.Tokens == nil || opts.Stores.Pairs == nil || opts.Stores.Operations == nil {
		return nil, errors.New("syncer: token, pair and operation stores are required")
	}
	if opts.Schema == "" {
		opts.Schema = "auto"
	}
	if opts.Schema != "auto" {
		if _, err := codec.ParseSchema(opts.Schema); err != nil {
			return nil, fmt.Errorf("syncer: %w", err)
		}
	}
	if opts.Begin <= 0 {
		opts.Begin = 1
	}
	if opts.FollowInterval <= 0 {
		opts.FollowInterval = 60 * time.Second
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 1000
	}
	if opts.NewSessionID == nil {
		opts.NewSessionID = uuid.NewString
	}
	if opts.Publisher == nil {
		opts.Publisher = publish.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.ErrorLogger == nil {
		opts.ErrorLogger = opts.Logger
	}

	cache := NewCache(opts.Stores.Tokens, opts.Stores.Pairs, opts.Logger)
	return &Syncer{
		client:         opts.Client,
		reconnector:    opts.Reconnector,
		stores:         opts.Stores,
		registry:       opts.Registry,
		oracle:         opts.Oracle,
		aggregator:     opts.Aggregator,
		publisher:      opts.Publisher,
		cache:          cache,
		mapper:         NewMapper(cache, opts.Oracle),
		begin:          opts.Begin,
		forceBegin:     opts.ForceBegin,
		schema:         opts.Schema,
		keyedSinceSpec: opts.KeyedSinceSpec,
		follow:         opts.Follow,
		followInterval: opts.FollowInterval,
		progressEvery:  opts.ProgressEvery,
		newSessionID:   opts.NewSessionID,
		logger:         opts.Logger,
		errLogger:      opts.ErrorLogger,
	}, nil
}

// Client returns the chain client in use, which changes after a reconnect.
func (s *Syncer) Client() substrate.Client {
	return s.client
}

// Run performs one pass, or keeps passing every FollowInterval in follow
// mode, until ctx is cancelled or a fatal error occurs.
func (s *Syncer) Run(ctx context.Context) error {
	for {
		res, err := s.RunPass(ctx)
		if err != nil {
			return err
		}
		s.logger.Printf("[%s] pass done: blocks [%d, %d), %d operations, %d conflicts",
			res.Session, res.From, res.Head, res.Operations, res.Conflicts)

		if !s.follow {
			return nil
		}
		s.forceBegin = false

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.followInterval):
		}
	}
}

// RunPass syncs from the resume point to the current finalized head and then
// refreshes the aggregates.
func (s *Syncer) RunPass(ctx context.Context) (*PassResult, error) {
	res := &PassResult{Session: s.newSessionID()}

	if err := s.startSession(ctx, res.Session); err != nil {
		return nil, err
	}

	from, err := s.resumePoint(ctx)
	if err != nil {
		return nil, err
	}
	res.From = from

	var head int64
	err = s.withClient(ctx, func(c substrate.Client) error {
		var err error
		head, err = c.FinalizedHead(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("finalized head: %w", err)
	}
	res.Head = head
	observability.UpdateChainHead(head)

	if err := s.cache.Load(ctx); err != nil {
		return nil, err
	}

	s.logger.Printf("[%s] syncing blocks [%d, %d)", res.Session, from, head)

	for n := from; n < head; n++ {
		if ctx.Err() != nil {
			if err := s.awaitPending(ctx, res); err != nil {
				return nil, err
			}
			return nil, ctx.Err()
		}

		start := time.Now()
		ops, err := s.extractBlock(ctx, n)
		if err != nil {
			return nil, errors.Join(err, s.awaitPending(ctx, res))
		}

		if err := s.awaitPending(ctx, res); err != nil {
			return nil, err
		}

		var rows *domain.BlockRows
		err = s.withClient(ctx, func(c substrate.Client) error {
			var err error
			rows, err = s.mapper.Map(ctx, c, n, ops)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", n, err)
		}

		if !rows.Empty() {
			s.startWrite(ctx, rows)
		}
		res.Blocks++
		res.Operations += len(ops)
		observability.RecordBlockProcessed(time.Since(start).Seconds())

		if (n-from+1)%s.progressEvery == 0 {
			s.logger.Printf("[%s] block %d of %d", res.Session, n, head-1)
		}
	}

	if err := s.awaitPending(ctx, res); err != nil {
		return nil, err
	}

	if s.aggregator != nil {
		err := s.withClient(ctx, func(c substrate.Client) error {
			_, err := s.aggregator.Run(ctx, c)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("aggregate: %w", err)
		}
	}

	observability.MarkPassComplete(time.Now())
	return res, nil
}

// startSession resets the price cache and the asset list and selects the
// wire schema of the connected runtime.
func (s *Syncer) startSession(ctx context.Context, session string) error {
	if err := s.oracle.Reset(ctx, session); err != nil {
		return err
	}
	s.cache.ResetSession()
	return s.withClient(ctx, func(c substrate.Client) error {
		return s.selectSchema(ctx, c)
	})
}

func (s *Syncer) selectSchema(ctx context.Context, c substrate.Client) error {
	var schema codec.Schema
	if s.schema == "auto" {
		spec, err := c.RuntimeVersion(ctx)
		if err != nil {
			return fmt.Errorf("runtime version: %w", err)
		}
		schema = codec.SelectSchema(spec, s.keyedSinceSpec)
	} else {
		schema, _ = codec.ParseSchema(s.schema)
	}
	if schema != s.registry.Decoder().Schema() {
		s.logger.Printf("using %s schema", schema)
	}
	s.registry.SetDecoder(codec.NewDecoder(schema))
	return nil
}

// resumePoint is the block after the highest persisted one, or Begin.
func (s *Syncer) resumePoint(ctx context.Context) (int64, error) {
	if s.forceBegin {
		return s.begin, nil
	}
	last, ok, err := s.stores.Operations.MaxBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("resume point: %w", err)
	}
	if !ok {
		return s.begin, nil
	}
	return last + 1, nil
}

// extractBlock fetches a block with its events and extracts its operations.
func (s *Syncer) extractBlock(ctx context.Context, n int64) ([]domain.Operation, error) {
	var ops []domain.Operation
	err := s.withClient(ctx, func(c substrate.Client) error {
		start := time.Now()
		block, err := c.GetBlock(ctx, n)
		if err != nil {
			return fmt.Errorf("get block: %w", err)
		}
		events, err := c.GetEvents(ctx, block.Hash)
		if err != nil {
			return fmt.Errorf("get events: %w", err)
		}
		observability.RecordRPCLatency("block", time.Since(start).Seconds())

		ops, err = s.registry.ExtractBlock(ctx, block, events)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", n, err)
	}
	return ops, nil
}

// startWrite persists rows in the background. The write does not observe
// cancellation so that an in-flight block always lands.
func (s *Syncer) startWrite(ctx context.Context, rows *domain.BlockRows) {
	w := &pendingWrite{block: rows.Block, done: make(chan struct{})}
	writeCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(w.done)
		w.conflict, w.err = s.write(writeCtx, rows)
	}()
	s.pending = w
}

// awaitPending waits for the in-flight write and reloads the cache when it
// had to replace existing rows.
func (s *Syncer) awaitPending(ctx context.Context, res *PassResult) error {
	w := s.pending
	if w == nil {
		return nil
	}
	<-w.done
	s.pending = nil

	if w.err != nil {
		return w.err
	}
	if w.conflict {
		res.Conflicts++
		if err := s.cache.Load(ctx); err != nil {
			return fmt.Errorf("reload cache after block %d: %w", w.block, err)
		}
	}
	return nil
}

// write inserts the rows of a block. Rows that already exist are replaced,
// keeping the last row per key.
func (s *Syncer) write(ctx context.Context, rows *domain.BlockRows) (conflict bool, err error) {
	ops := s.stores.Operations

	err = ops.InsertBlock(ctx, rows)
	if errors.Is(err, storage.ErrDuplicateKey) {
		conflict = true
		observability.RecordConflict()
		s.logger.Printf("block %d already persisted, replacing %d operations", rows.Block, len(rows.OpIDs()))
		rows.Dedupe()
		err = ops.ReplaceBlock(ctx, rows)
	}
	if err != nil {
		return conflict, fmt.Errorf("persist block %d: %w", rows.Block, err)
	}

	observability.RecordRowsPersisted("swap", len(rows.Swaps))
	observability.RecordRowsPersisted("operation", len(rows.Operations))
	observability.RecordRowsPersisted("burn", len(rows.Burns))
	observability.RecordRowsPersisted("buyback", len(rows.BuyBacks))
	observability.UpdateHighestBlock(rows.Block)

	if err := s.publisher.Publish(ctx, rows.Block, rows); err != nil {
		observability.RecordPublishError()
		s.errLogger.Printf("publish block %d: %v", rows.Block, err)
	}
	return conflict, nil
}

// withClient runs fn, reconnecting and retrying on transport failures.
func (s *Syncer) withClient(ctx context.Context, fn func(substrate.Client) error) error {
	for failures := 0; ; failures++ {
		err := fn(s.client)
		if err == nil || !substrate.IsTransport(err) || ctx.Err() != nil {
			return err
		}
		if s.reconnector == nil {
			return err
		}
		if failures >= s.reconnector.max {
			observability.RecordReconnect("exhausted")
			return fmt.Errorf("%w: %v", ErrReconnectsExhausted, err)
		}

		client, endpoint, rerr := s.reconnector.Reconnect(ctx, err)
		if rerr != nil {
			return rerr
		}
		s.errLogger.Printf("reconnected to %s", endpoint)

		if old := s.client; old != client {
			_ = old.Close()
		}
		s.client = client
		s.oracle.SetQuoter(client)
		if err := s.selectSchema(ctx, client); err != nil && !substrate.IsTransport(err) {
			return err
		}
	}
}
