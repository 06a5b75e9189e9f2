package metrics

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector("iyacare", nil, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Inc(MessagesSent)
		}()
	}
	wg.Wait()
	c.Add(NotificationsCreated, 3)
	c.Add(NotificationsCreated, 0)

	snap := c.Snapshot()
	assert.Equal(t, uint64(50), snap.Counters[MessagesSent])
	assert.Equal(t, uint64(3), snap.Counters[NotificationsCreated])
	assert.Equal(t, "iyacare", snap.Service)
}

func TestCollector_FlushAndRead(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	c := NewCollector("iyacare", client, zerolog.Nop())
	c.Inc(Sweeps)
	c.Flush(context.Background())

	assert.True(t, mr.Exists(KeyPrefix+"iyacare"))
	assert.Equal(t, TTL, mr.TTL(KeyPrefix+"iyacare"))

	r := NewReader(client)
	snap, err := r.Get(context.Background(), "iyacare")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Counters[Sweeps])
	assert.Equal(t, "healthy", snap.Status)

	names, err := r.Services(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"iyacare"}, names)
}

func TestReader_Missing(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	_, err := NewReader(client).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNoMetrics)
}

func TestCollector_StopWritesFinalSnapshot(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	c := NewCollector("iyacare", client, zerolog.Nop())
	c.Start(context.Background())
	c.Inc(OracleFallbacks)
	c.Stop()

	assert.True(t, mr.Exists(KeyPrefix+"iyacare"))
}
