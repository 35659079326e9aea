// chesstree generates and serves the reachable chess position graph from the standard starting
// position out to a configurable ply depth.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chesstree/chesstree/pkg/board"
	"github.com/chesstree/chesstree/pkg/board/fen"
	"github.com/chesstree/chesstree/pkg/config"
	"github.com/chesstree/chesstree/pkg/evaluator"
	"github.com/chesstree/chesstree/pkg/graph"
	"github.com/chesstree/chesstree/pkg/httpapi"
	"github.com/chesstree/chesstree/pkg/movegen"
	"github.com/chesstree/chesstree/pkg/progress"
	"github.com/chesstree/chesstree/pkg/readapi"
	"github.com/chesstree/chesstree/pkg/storage"
)

var (
	flagDepth      int
	flagDBPath     string
	flagThreads    int
	flagBufferSize int
	flagServe      bool
	flagPort       int
	flagServeOnly  bool
	flagResume     bool
	flagExtend     int
	flagConfigPath string
	flagEvaluate   bool
	flagEnginePath string
)

// zobristSeed fixes the Zobrist key table across process runs, so that --resume and --extend
// recompute the same hashes that an earlier run stored.
const zobristSeed = 1

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chesstree",
		Short: "Parallel transposition-aware chess position graph builder",
		RunE:  run,
	}

	flags := cmd.Flags()
	flags.IntVar(&flagDepth, "depth", 0, "maximum depth in full moves, converted to plies (0 = config/default)")
	flags.StringVar(&flagDBPath, "db-path", "", "path to the SQLite database file")
	flags.IntVar(&flagThreads, "threads", 0, "worker pool size (0 = auto)")
	flags.IntVar(&flagBufferSize, "buffer-size", 0, "vertex buffer flush threshold (0 = config/default)")
	flags.BoolVar(&flagServe, "serve", false, "start the read-API HTTP server after generation")
	flags.IntVar(&flagPort, "port", 0, "HTTP server port (0 = config/default)")
	flags.BoolVar(&flagServeOnly, "serve-only", false, "skip generation, only serve the existing database")
	flags.BoolVar(&flagResume, "resume", false, "resume generation to --depth from the deepest persisted layer")
	flags.IntVar(&flagExtend, "extend", 0, "extend generation by this many additional plies (0 = disabled)")
	flags.StringVar(&flagConfigPath, "config", "", "path to a TOML configuration file")
	flags.BoolVar(&flagEvaluate, "evaluate", false, "after generation, annotate committed positions via the configured UCI engine")
	flags.StringVar(&flagEnginePath, "engine-path", "", "path to the UCI engine binary (empty = config/default)")

	return cmd
}

func run(cmd *cobra.Command, _ []string) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("chesstree: build logger: %w", err)
	}
	defer log.Sync()

	cfg := config.Default()
	if flagConfigPath != "" {
		cfg, err = config.Load(flagConfigPath)
		if err != nil {
			return fmt.Errorf("chesstree: load config: %w", err)
		}
	}
	cfg.Apply(overridesFromFlags())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("chesstree: open store: %w", err)
	}
	defer pool.Close()

	if flagServeOnly {
		return serve(ctx, log, pool, cfg, progress.NewTracker(prometheus.DefaultRegisterer))
	}

	prog, err := generate(ctx, log, pool, cfg)
	if err != nil {
		return err
	}

	if cfg.Server.Enabled {
		return serve(ctx, log, pool, cfg, prog)
	}
	return nil
}

func overridesFromFlags() config.Overrides {
	var o config.Overrides
	if flagDepth > 0 {
		o.Depth = &flagDepth
	}
	if flagDBPath != "" {
		o.DBPath = &flagDBPath
	}
	if flagThreads > 0 {
		o.Threads = &flagThreads
	}
	if flagBufferSize > 0 {
		o.BufferSize = &flagBufferSize
	}
	if flagPort > 0 {
		o.Port = &flagPort
	}
	if flagServe {
		o.Serve = &flagServe
	}
	if flagEvaluate {
		o.Evaluate = &flagEvaluate
	}
	if flagEnginePath != "" {
		o.EnginePath = &flagEnginePath
	}
	return o
}

func generate(ctx context.Context, log *zap.Logger, pool *storage.Pool, cfg config.Config) (*progress.Tracker, error) {
	maxPlies := cfg.Generation.MaxDepth * 2

	poolSize := cfg.Generation.Threads
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
	}
	bufferSize := cfg.Generation.BufferSize
	if bufferSize <= 0 {
		bufferSize = storage.DefaultBufferSize
	}

	writer := storage.NewWriter(pool, bufferSize)
	tracker, err := graph.NewTracker(graph.DefaultCacheSize, graph.DefaultFilterCapacity)
	if err != nil {
		return nil, fmt.Errorf("chesstree: build seen-set: %w", err)
	}
	prog := progress.NewTracker(prometheus.DefaultRegisterer)

	reporterCtx, stopReporter := context.WithCancel(ctx)
	defer stopReporter()
	go prog.RunReporter(reporterCtx, log, 2*time.Second)

	engine := &graph.Engine{
		Keys:     board.NewZobristKeys(zobristSeed),
		Gen:      movegen.New(),
		Tracker:  tracker,
		Pool:     pool,
		Writer:   writer,
		Progress: prog,
		PoolSize: poolSize,
	}

	log.Info("starting generation",
		zap.Int("max_depth_full_moves", cfg.Generation.MaxDepth),
		zap.Int("max_depth_plies", maxPlies),
		zap.String("db_path", cfg.Storage.Path),
		zap.Int("threads", poolSize),
	)

	var genErr error
	switch {
	case flagExtend > 0:
		genErr = engine.Extend(ctx, flagExtend)
	case flagResume:
		genErr = engine.Resume(ctx, maxPlies)
	default:
		pos, turn, _, _, decodeErr := fen.Decode(fen.Initial)
		if decodeErr != nil {
			return nil, fmt.Errorf("chesstree: decode initial position: %w", decodeErr)
		}
		genErr = engine.Generate(ctx, pos, turn, maxPlies)
	}

	// flush_all always runs, even on a cancelled context, so partial progress is durable.
	_, _, flushErr := writer.FlushAll(context.Background())

	snapshot := prog.Snapshot()
	log.Info("generation finished",
		zap.Int64("expanded", snapshot.Expanded),
		zap.Int64("inserted", snapshot.Inserted),
		zap.Int64("duplicates", snapshot.Duplicates),
		zap.Int64("edges", snapshot.Edges),
		zap.Uint64("filter_false_positives", tracker.FalsePositives()),
	)

	if genErr != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("chesstree: generation failed: %w", genErr)
	}
	if flushErr != nil {
		return nil, fmt.Errorf("chesstree: final flush failed: %w", flushErr)
	}

	if cfg.Evaluation.Enabled && ctx.Err() == nil {
		if err := evaluate(ctx, log, pool, writer, cfg); err != nil {
			return nil, fmt.Errorf("chesstree: evaluation pass failed: %w", err)
		}
	}

	return prog, nil
}

// evaluate annotates every already-committed position with a score, best move, and game result
// from the configured external UCI engine. It runs once, after generation has finished and all
// buffers are flushed, never during expansion.
func evaluate(ctx context.Context, log *zap.Logger, pool *storage.Pool, writer *storage.Writer, cfg config.Config) error {
	positions, err := pool.AllPositions(ctx)
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}

	eval := evaluator.New(cfg.Evaluation.Path, cfg.Evaluation.Depth)
	defer eval.Close()

	log.Info("starting evaluation pass",
		zap.Int("positions", len(positions)),
		zap.String("engine", cfg.Evaluation.Path),
		zap.Int("depth", cfg.Evaluation.Depth),
	)

	for _, p := range positions {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result, err := eval.Evaluate(p.FEN)
		if err != nil {
			return fmt.Errorf("evaluate %q: %w", p.FEN, err)
		}

		score := result.Score
		bestMove := result.BestMove
		gameResult := result.GameResult
		if err := writer.UpdateAnnotation(ctx, p.Hash, &score, &bestMove, &gameResult); err != nil {
			return fmt.Errorf("annotate hash %d: %w", p.Hash, err)
		}
	}

	log.Info("evaluation pass finished", zap.Int("positions", len(positions)))
	return nil
}

func serve(ctx context.Context, log *zap.Logger, pool *storage.Pool, cfg config.Config, prog *progress.Tracker) error {
	api, err := readapi.New(pool)
	if err != nil {
		return fmt.Errorf("chesstree: build read API: %w", err)
	}
	server := httpapi.New(api, prog, log)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: server}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	log.Info("read-API server listening", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("chesstree: http server: %w", err)
		}
		return nil
	}
}
