package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/watchvault-pricing/internal/appraisal"
	"github.com/joelkehle/watchvault-pricing/internal/pricing"
)

func newTestStore(t *testing.T, dbPath string, now *time.Time) *Store {
	t.Helper()
	s, err := Open(dbPath, WithClock(func() time.Time { return *now }))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func floatPtr(v float64) *float64 { return &v }

func TestSaveProductDerivesMinimumPrice(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, filepath.Join(t.TempDir(), "test.db"), &now)
	ctx := context.Background()

	saved, err := s.SaveProduct(ctx, Product{
		Attributes: appraisal.ProductAttributes{Brand: "Omega", Cost: floatPtr(100)},
		Signals:    &appraisal.ChannelSignals{EasilyPriceChecked: true},
	})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)
	require.NotNil(t, saved.MinimumPrice)
	assert.Equal(t, int64(125), *saved.MinimumPrice)

	got, err := s.GetProduct(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Omega", got.Attributes.Brand)
	require.NotNil(t, got.MinimumPrice)
	assert.Equal(t, int64(125), *got.MinimumPrice)
	require.NotNil(t, got.Signals)
	assert.True(t, got.Signals.EasilyPriceChecked)
	assert.True(t, got.CreatedAt.Equal(now))
}

func TestSaveProductRecomputesOnUpdate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, filepath.Join(t.TempDir(), "test.db"), &now)
	ctx := context.Background()

	first, err := s.SaveProduct(ctx, Product{ID: "watch-1", Attributes: appraisal.ProductAttributes{Cost: floatPtr(100)}})
	require.NoError(t, err)

	created := now
	now = now.Add(time.Hour)
	second, err := s.SaveProduct(ctx, Product{ID: "watch-1", Attributes: appraisal.ProductAttributes{Cost: floatPtr(200)}, MinimumPrice: first.MinimumPrice})
	require.NoError(t, err)
	assert.Equal(t, int64(250), *second.MinimumPrice)
	assert.True(t, second.CreatedAt.Equal(created))
	assert.True(t, second.UpdatedAt.Equal(now))

	third, err := s.SaveProduct(ctx, Product{ID: "watch-1"})
	require.NoError(t, err)
	assert.Nil(t, third.MinimumPrice, "no cost means no derived price")
}

func TestSaveProductRejectsInvalidCost(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, filepath.Join(t.TempDir(), "test.db"), &now)
	_, err := s.SaveProduct(context.Background(), Product{Attributes: appraisal.ProductAttributes{Cost: floatPtr(-1)}})
	assert.ErrorIs(t, err, pricing.ErrInvalidCost)
}

func TestGetMissing(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, filepath.Join(t.TempDir(), "test.db"), &now)
	ctx := context.Background()

	_, err := s.GetProduct(ctx, "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err = s.GetRun(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPartialRunRoundTripAcrossReopen(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dbPath := filepath.Join(t.TempDir(), "roundtrip.db")
	ctx := context.Background()

	bmv := 9200.0
	run := appraisal.RunResult{
		RunID:   "run-1",
		Request: appraisal.Request{ProductID: "watch-1"},
		State:   appraisal.StateCompsFiltered,
		Outputs: []appraisal.StageOutput{
			{Order: 1, Key: appraisal.KeyIdentification, Variable: "pass1_output", Text: "Submariner"},
			{Order: 4, Key: appraisal.KeyCompFilter, Variable: "pass4_output", Text: "BMV: $9,200"},
		},
		BMV: &bmv,
		Metadata: appraisal.PipelineMetadata{
			StagesExecuted: []string{appraisal.KeyIdentification, appraisal.KeyCompFilter},
			StagesSkipped:  []string{appraisal.KeyChannel},
			StageFailed:    appraisal.KeyFormulas,
			FailureReason:  "invalid pricing config: whatnot_fee_rate is required",
			StartedAt:      now,
			CompletedAt:    now.Add(time.Second),
			Mode:           appraisal.RunModePartial,
		},
	}

	s1, err := Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.SaveRun(ctx, run))
	require.NoError(t, s1.Close())

	s2 := newTestStore(t, dbPath, &now)
	got, err := s2.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, appraisal.RunModePartial, got.Metadata.Mode)
	assert.Equal(t, appraisal.KeyFormulas, got.Metadata.StageFailed)
	assert.Len(t, got.Outputs, 2)
	out, ok := got.Output("pass4_output")
	require.True(t, ok)
	assert.Equal(t, "BMV: $9,200", out.Text)
	require.NotNil(t, got.BMV)
	assert.Equal(t, 9200.0, *got.BMV)

	runs, err := s2.ListRuns(ctx, "watch-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, appraisal.StateCompsFiltered, runs[0].State)
	assert.Equal(t, appraisal.KeyFormulas, runs[0].StageFailed)
}

func TestListRunsNewestFirst(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, filepath.Join(t.TempDir(), "test.db"), &now)
	ctx := context.Background()

	starts := []struct {
		id string
		at time.Time
	}{
		{"first", now},
		{"second", now.Add(500 * time.Millisecond)},
		{"third", now.Add(time.Minute)},
		{"fourth", now.Add(time.Minute + time.Nanosecond)},
	}
	for _, st := range starts {
		run := appraisal.RunResult{
			RunID:    st.id,
			Request:  appraisal.Request{ProductID: "watch-2"},
			State:    appraisal.StateChannelDecided,
			Metadata: appraisal.PipelineMetadata{StartedAt: st.at, Mode: appraisal.RunModeComplete},
		}
		require.NoError(t, s.SaveRun(ctx, run))
	}
	runs, err := s.ListRuns(ctx, "watch-2")
	require.NoError(t, err)
	ids := make([]string, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.RunID)
	}
	assert.Equal(t, []string{"fourth", "third", "second", "first"}, ids)
	assert.Equal(t, "2026-03-01T12:00:00.500000000Z", runs[2].StartedAt)

	none, err := s.ListRuns(ctx, "watch-3")
	require.NoError(t, err)
	assert.Empty(t, none)
}
