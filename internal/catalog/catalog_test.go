package catalog

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliscope/compliscope/internal/models"
)

func TestStatic_GetScenarios(t *testing.T) {
	ctx := context.Background()
	s := NewStatic()

	for _, industry := range Industries() {
		t.Run(industry, func(t *testing.T) {
			scenarios, err := s.GetScenarios(ctx, industry)
			require.NoError(t, err)
			require.NotEmpty(t, scenarios)
			for _, sc := range scenarios {
				assert.Equal(t, industry, sc.Industry)
				assert.NotEmpty(t, sc.ID)
				for _, ch := range sc.RegulationChanges {
					assert.True(t, ch.ChangeType.Valid(), "change type %q", ch.ChangeType)
					assert.True(t, ch.ImpactLevel.Valid(), "impact %q", ch.ImpactLevel)
				}
			}
		})
	}
}

func TestStatic_IndustryIsCaseInsensitive(t *testing.T) {
	scenarios, err := NewStatic().GetScenarios(context.Background(), "  healthCARE ")
	require.NoError(t, err)
	assert.Equal(t, "Healthcare", scenarios[0].Industry)
}

func TestStatic_UnknownIndustry(t *testing.T) {
	_, err := NewStatic().GetScenarios(context.Background(), "Aerospace")
	assert.ErrorIs(t, err, ErrNoData)
}

func TestStatic_General(t *testing.T) {
	scenarios, err := NewStatic().GetScenarios(context.Background(), IndustryGeneral)
	require.NoError(t, err)
	assert.NotEmpty(t, scenarios)
}

func TestStatic_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStatic()

	first, err := s.GetScenarios(ctx, "Finance")
	require.NoError(t, err)
	first[0].Actions[0] = "mutated"
	first[0].RegulationChanges[0].Description = "mutated"

	second, err := s.GetScenarios(ctx, "Finance")
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", second[0].Actions[0])
	assert.NotEqual(t, "mutated", second[0].RegulationChanges[0].Description)
}

func TestFindScenario(t *testing.T) {
	ctx := context.Background()

	sc, err := FindScenario(ctx, NewStatic(), "Healthcare", "hc-hipaa-breach-notification")
	require.NoError(t, err)
	assert.Equal(t, models.RegulationHIPAA, sc.RegulationChanges[0].Regulation)

	_, err = FindScenario(ctx, NewStatic(), "Healthcare", "missing")
	assert.ErrorIs(t, err, ErrScenarioNotFound)
}

type countingSource struct {
	calls atomic.Int32
	inner Source
}

func (c *countingSource) GetScenarios(ctx context.Context, industry string) ([]models.SimulationScenario, error) {
	c.calls.Add(1)
	return c.inner.GetScenarios(ctx, industry)
}

func TestCached_MemoisesPerIndustry(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{inner: NewStatic()}
	c := NewCached(src, CachedConfig{})

	for i := 0; i < 3; i++ {
		_, err := c.GetScenarios(ctx, "Retail")
		require.NoError(t, err)
	}
	_, err := c.GetScenarios(ctx, "retail")
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())

	_, err = c.GetScenarios(ctx, "Finance")
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())

	c.Invalidate(ctx)
	_, err = c.GetScenarios(ctx, "Retail")
	require.NoError(t, err)
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestCached_DoesNotCacheFailures(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{inner: NewStatic()}
	c := NewCached(src, CachedConfig{})

	_, err := c.GetScenarios(ctx, "Unknown")
	assert.ErrorIs(t, err, ErrNoData)
	_, err = c.GetScenarios(ctx, "Unknown")
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestCached_SimulatedLatency(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewCached(NewStatic(), CachedConfig{Latency: 2 * time.Second}, WithClock(clock))

	done := make(chan error, 1)
	go func() {
		_, err := c.GetScenarios(context.Background(), "Education")
		done <- err
	}()

	clock.BlockUntil(1)
	select {
	case <-done:
		t.Fatal("lookup returned before the simulated latency elapsed")
	default:
	}

	clock.Advance(2 * time.Second)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("lookup did not complete after advancing the clock")
	}
}

func TestCached_LatencyRespectsCancellation(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewCached(NewStatic(), CachedConfig{Latency: time.Minute}, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetScenarios(ctx, "Education")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCached_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewCached(NewStatic(), CachedConfig{})

	first, err := c.GetScenarios(ctx, "healthcare")
	require.NoError(t, err)
	name := first[0].Name
	first[0].Name = "changed"
	first[0].RegulationChanges[0].Description = "changed"
	first[0].Actions = append(first[0].Actions[:0], "changed")

	second, err := c.GetScenarios(ctx, "healthcare")
	require.NoError(t, err)
	assert.Equal(t, name, second[0].Name)
	assert.NotEqual(t, "changed", second[0].RegulationChanges[0].Description)
	assert.NotContains(t, second[0].Actions, "changed")

	second[1].Name = "changed"
	third, err := c.GetScenarios(ctx, "healthcare")
	require.NoError(t, err)
	assert.NotEqual(t, "changed", third[1].Name)
}
