package similarity

import (
	"SignalFlow/backend/go/internal/kv"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const partition = "relevant-content"

func newTestStore(dimensions int) *Store {
	return NewStore(kv.NewMemoryStore(), "vector", dimensions, logger.NewDiscard())
}

func entry(id string, vec ...float32) *models.SimilarityEntry {
	return &models.SimilarityEntry{ID: id, Type: "info", Content: "content " + id, Embedding: vec}
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 1}))
}

func TestStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(3)

	require.NoError(t, s.Save(ctx, partition, entry("r1", 1, 0, 0)))

	got, err := s.Get(ctx, partition, "r1")
	require.NoError(t, err)
	assert.Equal(t, "content r1", got.Content)
	assert.Equal(t, 3, got.Dimensions)
	assert.Equal(t, partition, got.Partition)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = s.Get(ctx, partition, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(3)

	err := s.Save(ctx, partition, entry("r1", 1, 0))
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = s.Search(ctx, partition, []float32{1, 0, 0, 0}, SearchOptions{})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestStore_DimensionsLearnedFromPartition(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(0)

	require.NoError(t, s.Save(ctx, partition, entry("r1", 1, 0)))
	err := s.Save(ctx, partition, entry("r2", 1, 0, 0))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestStore_InvalidPartition(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(2)

	for _, p := range []string{"", "Bad Name", "ids", "a:b"} {
		err := s.Save(ctx, p, entry("r1", 1, 0))
		assert.ErrorIs(t, err, ErrInvalidPartition, p)
	}
}

func TestStore_SearchOrdersAndFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(2)

	require.NoError(t, s.SaveBatch(ctx, partition, []*models.SimilarityEntry{
		entry("exact", 1, 0),
		entry("close", 1, 0.5),
		entry("far", 0, 1),
	}))
	strategy := entry("other-type", 1, 0.1)
	strategy.Type = "strategy"
	require.NoError(t, s.Save(ctx, partition, strategy))

	results, err := s.Search(ctx, partition, []float32{1, 0}, SearchOptions{Limit: 3, Threshold: 0.6, Type: "info"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "exact", results[0].Entry.ID)
	assert.Equal(t, "close", results[1].Entry.ID)
	assert.GreaterOrEqual(t, results[0].Similarity, results[1].Similarity)

	results, err = s.Search(ctx, partition, []float32{1, 0}, SearchOptions{Limit: 1, Threshold: 0.6})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "exact", results[0].Entry.ID)
}

func TestStore_UpdateKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(2)

	require.NoError(t, s.Save(ctx, partition, entry("r1", 1, 0)))
	before, err := s.Get(ctx, partition, "r1")
	require.NoError(t, err)

	updated, err := s.Update(ctx, partition, "r1", "fresh content", []float32{0, 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, "r1", updated.ID)
	assert.Equal(t, "fresh content", updated.Content)
	assert.Equal(t, before.CreatedAt, updated.CreatedAt)

	_, err = s.Update(ctx, partition, "missing", "x", []float32{0, 1}, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	stats, err := s.PartitionStats(ctx, partition)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Count)
	assert.Equal(t, 2, stats.Dimensions)
	assert.NotNil(t, stats.LastUpdate)
}

func TestStore_DeleteClearAndList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(2)

	require.NoError(t, s.Save(ctx, partition, entry("r1", 1, 0)))
	require.NoError(t, s.Save(ctx, partition, entry("r2", 0, 1)))
	require.NoError(t, s.Save(ctx, "archive", entry("r3", 0, 1)))

	partitions, err := s.ListPartitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"archive", partition}, partitions)

	require.NoError(t, s.Delete(ctx, partition, "r1"))
	all, err := s.GetAll(ctx, partition)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "r2", all[0].ID)

	n, err := s.ClearPartition(ctx, partition)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	partitions, err = s.ListPartitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"archive"}, partitions)
}

func TestStore_FindDuplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(2)

	require.NoError(t, s.Save(ctx, partition, entry("a", 1, 0)))
	require.NoError(t, s.Save(ctx, partition, entry("a-copy", 1, 0.01)))
	require.NoError(t, s.Save(ctx, partition, entry("b", 0, 1)))

	groups, err := s.FindDuplicates(ctx, partition, 0)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	ids := []string{groups[0].Original.ID, groups[0].Duplicates[0].ID}
	assert.ElementsMatch(t, []string{"a", "a-copy"}, ids)
}
