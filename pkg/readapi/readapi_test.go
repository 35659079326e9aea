package readapi_test

import (
	"context"
	"testing"

	"github.com/chesstree/chesstree/pkg/board"
	"github.com/chesstree/chesstree/pkg/board/fen"
	"github.com/chesstree/chesstree/pkg/graph"
	"github.com/chesstree/chesstree/pkg/movegen"
	"github.com/chesstree/chesstree/pkg/progress"
	"github.com/chesstree/chesstree/pkg/readapi"
	"github.com/chesstree/chesstree/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) *storage.Pool {
	t.Helper()
	pool, err := storage.Open(t.TempDir() + "/graph.db")
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func generateDepth(t *testing.T, pool *storage.Pool, maxDepth int) {
	t.Helper()
	writer := storage.NewWriter(pool, 1000)
	tracker, err := graph.NewTracker(1000, 100_000)
	require.NoError(t, err)

	e := &graph.Engine{
		Keys:     board.NewZobristKeys(1),
		Gen:      movegen.New(),
		Tracker:  tracker,
		Pool:     pool,
		Writer:   writer,
		Progress: progress.NewTracker(prometheus.NewRegistry()),
		PoolSize: 4,
	}

	pos, turn, _, _, err := fen.Decode(fen.Initial)
	require.NoError(t, err)
	require.NoError(t, e.Generate(context.Background(), pos, turn, maxDepth))
}

func TestAPI_GetPositionRootWithNoHash(t *testing.T) {
	pool := newTestPool(t)
	generateDepth(t, pool, 1)

	api, err := readapi.New(pool)
	require.NoError(t, err)

	n, err := api.GetPosition(context.Background(), nil, 0)
	require.NoError(t, err)
	require.Equal(t, 0, n.Depth)
	require.Len(t, n.Outgoing, 20)
	require.Empty(t, n.Incoming)
	require.False(t, n.Transposition)
}

func TestAPI_GetPositionByHashCachesResult(t *testing.T) {
	pool := newTestPool(t)
	generateDepth(t, pool, 1)

	api, err := readapi.New(pool)
	require.NoError(t, err)

	root, err := api.GetPosition(context.Background(), nil, 0)
	require.NoError(t, err)

	child := root.Outgoing[0].ChildHash
	n, err := api.GetPosition(context.Background(), &child, 0)
	require.NoError(t, err)
	require.Equal(t, child, n.Hash)
	require.Equal(t, 1, n.Depth)

	// Second lookup should be served from the cache without error.
	again, err := api.GetPosition(context.Background(), &child, 0)
	require.NoError(t, err)
	require.Equal(t, n.FEN, again.FEN)
}

func TestAPI_GetNeighborsReturnsEdgesOnly(t *testing.T) {
	pool := newTestPool(t)
	generateDepth(t, pool, 1)

	api, err := readapi.New(pool)
	require.NoError(t, err)

	root, err := api.GetPosition(context.Background(), nil, 0)
	require.NoError(t, err)

	nb, err := api.GetNeighbors(context.Background(), root.Hash, 0)
	require.NoError(t, err)
	require.Len(t, nb.Outgoing, 20)
	require.Empty(t, nb.Incoming)
}

func TestAPI_GetStatsMatchesGeneratedCounts(t *testing.T) {
	pool := newTestPool(t)
	generateDepth(t, pool, 2)

	api, err := readapi.New(pool)
	require.NoError(t, err)

	s, err := api.GetStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1+20+400, s.TotalVertices)
	require.Equal(t, 20+400, s.TotalEdges)
	require.Equal(t, 2, s.MaxDepth)
	require.Equal(t, 1, s.DepthHistogram[0])
	require.Equal(t, 20, s.DepthHistogram[1])
	require.Equal(t, 400, s.DepthHistogram[2])
}

func TestAPI_SearchFindsByFENSubstring(t *testing.T) {
	pool := newTestPool(t)
	generateDepth(t, pool, 1)

	api, err := readapi.New(pool)
	require.NoError(t, err)

	root, err := api.GetPosition(context.Background(), nil, 0)
	require.NoError(t, err)

	results, err := api.Search(context.Background(), root.FEN[:10])
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestAPI_GetPositionUnknownHashErrors(t *testing.T) {
	pool := newTestPool(t)
	generateDepth(t, pool, 0)

	api, err := readapi.New(pool)
	require.NoError(t, err)

	bogus := uint64(12345)
	_, err = api.GetPosition(context.Background(), &bogus, 0)
	require.Error(t, err)
}
