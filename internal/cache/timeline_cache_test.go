package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cardio-risk-server/internal/domain"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func sampleTimeline(patientID string) *domain.PatientTimeline {
	p := 0.35
	score := 60
	level := domain.RiskMedium
	delta := 0.15
	return &domain.PatientTimeline{
		Patient: &domain.Patient{ID: patientID, HospitalID: "hosp-1", Name: "Asha Rao", Age: 45, Gender: domain.GenderFemale},
		Timeline: &domain.Timeline{
			RecordsCount:      2,
			LatestProbability: &p,
			LatestRiskLevel:   &level,
			Trend:             domain.TrendSummary{Status: domain.TrendWorsening, Delta: &delta},
			HealthScore:       &score,
			Entries:           []domain.TimelineEntry{},
		},
	}
}

func TestTimelineCache_MemoryTier(t *testing.T) {
	c := NewWithClient(domain.CacheConfig{MemoryItems: 2, MemoryTTL: time.Minute}, nil, quietLogger())
	ctx := context.Background()

	_, ok := c.Get(ctx, "hosp-1", "000000000001")
	assert.False(t, ok)

	c.Set(ctx, "hosp-1", "000000000001", 0, sampleTimeline("000000000001"))
	got, ok := c.Get(ctx, "hosp-1", "000000000001")
	require.True(t, ok)
	assert.Equal(t, 2, got.RecordsCount)

	// hospitals do not share entries
	_, ok = c.Get(ctx, "hosp-2", "000000000001")
	assert.False(t, ok)

	c.Invalidate(ctx, "hosp-1", "000000000001")
	_, ok = c.Get(ctx, "hosp-1", "000000000001")
	assert.False(t, ok)

	assert.Equal(t, "disabled", c.BreakerState())
	assert.NoError(t, c.Health(ctx))
	assert.NoError(t, c.Close())
}

func TestTimelineCache_SkipsTimelineComputedBeforeInvalidate(t *testing.T) {
	c := NewWithClient(domain.CacheConfig{}, nil, quietLogger())
	ctx := context.Background()

	generation := c.Generation("hosp-1", "000000000001")
	// a record is saved while the timeline is being computed
	c.Invalidate(ctx, "hosp-1", "000000000001")
	c.Set(ctx, "hosp-1", "000000000001", generation, sampleTimeline("000000000001"))

	_, ok := c.Get(ctx, "hosp-1", "000000000001")
	assert.False(t, ok)

	next := c.Generation("hosp-1", "000000000001")
	assert.Equal(t, generation+1, next)
	c.Set(ctx, "hosp-1", "000000000001", next, sampleTimeline("000000000001"))
	_, ok = c.Get(ctx, "hosp-1", "000000000001")
	assert.True(t, ok)

	// other patients are unaffected
	assert.Equal(t, uint64(0), c.Generation("hosp-1", "000000000002"))
	assert.Equal(t, uint64(0), c.Generation("hosp-2", "000000000001"))
}

func TestTimelineCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewWithClient(domain.CacheConfig{MemoryItems: 2}, nil, quietLogger())
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("%012d", i)
		c.Set(ctx, "hosp-1", id, 0, sampleTimeline(id))
	}
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(ctx, "hosp-1", "000000000001")
	assert.False(t, ok)
}

func TestTimelineCache_MemoryEntriesExpire(t *testing.T) {
	c := NewWithClient(domain.CacheConfig{MemoryTTL: 20 * time.Millisecond}, nil, quietLogger())
	ctx := context.Background()

	c.Set(ctx, "hosp-1", "000000000001", 0, sampleTimeline("000000000001"))
	assert.Eventually(t, func() bool {
		_, ok := c.Get(ctx, "hosp-1", "000000000001")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestTimelineCache_UnreachableRedisDegradesToMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := NewWithClient(domain.CacheConfig{}, client, quietLogger())
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < breakerFailures; i++ {
		_, ok := c.Get(ctx, "hosp-1", fmt.Sprintf("%012d", i))
		assert.False(t, ok)
	}
	assert.Equal(t, "open", c.BreakerState())
	assert.Error(t, c.Health(ctx))

	// the memory tier keeps working while the breaker is open
	c.Set(ctx, "hosp-1", "000000000009", 0, sampleTimeline("000000000009"))
	_, ok := c.Get(ctx, "hosp-1", "000000000009")
	assert.True(t, ok)
}

func TestTimelineCache_SharedRedisTier(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	}()

	endpoint, err := redisContainer.Endpoint(ctx, "")
	require.NoError(t, err)

	cfg := domain.CacheConfig{RedisEnabled: true, RedisURL: "redis://" + endpoint, DefaultTTL: time.Minute}
	writer, err := New(cfg, quietLogger())
	require.NoError(t, err)
	defer writer.Close()
	reader, err := New(cfg, quietLogger())
	require.NoError(t, err)
	defer reader.Close()

	writer.Set(ctx, "hosp-1", "000000000001", 0, sampleTimeline("000000000001"))

	// a second replica sees the entry through Redis
	got, ok := reader.Get(ctx, "hosp-1", "000000000001")
	require.True(t, ok)
	assert.Equal(t, "Asha Rao", got.Patient.Name)
	require.NotNil(t, got.Trend.Delta)
	assert.Equal(t, 0.15, *got.Trend.Delta)

	writer.Invalidate(ctx, "hosp-1", "000000000001")
	fresh, err := New(cfg, quietLogger())
	require.NoError(t, err)
	defer fresh.Close()
	_, ok = fresh.Get(ctx, "hosp-1", "000000000001")
	assert.False(t, ok)
	assert.NoError(t, writer.Health(ctx))
}
