package progress_test

import (
	"testing"

	"github.com/chesstree/chesstree/pkg/progress"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestTracker_CountersAccumulate(t *testing.T) {
	tr := progress.NewTracker(prometheus.NewRegistry())

	tr.RecordExpanded()
	tr.RecordExpanded()
	tr.RecordInserted()
	tr.RecordDuplicate()
	tr.RecordEdge()
	tr.RecordEdge()
	tr.RecordEdge()
	tr.RecordFrontier(20)
	tr.RecordDepthCompleted(1)

	s := tr.Snapshot()
	require.EqualValues(t, 2, s.Expanded)
	require.EqualValues(t, 1, s.Inserted)
	require.EqualValues(t, 1, s.Duplicates)
	require.EqualValues(t, 3, s.Edges)
	require.EqualValues(t, 20, s.Frontier)
	require.EqualValues(t, 1, s.DepthCompleted)
}

func TestTracker_DepthCompletedIsMonotonic(t *testing.T) {
	tr := progress.NewTracker(prometheus.NewRegistry())

	tr.RecordDepthCompleted(3)
	tr.RecordDepthCompleted(1)

	require.EqualValues(t, 3, tr.Snapshot().DepthCompleted)
}

func TestTracker_NilRegistrySkipsRegistration(t *testing.T) {
	require.NotPanics(t, func() {
		tr := progress.NewTracker(nil)
		tr.RecordExpanded()
	})
}
