package journal

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/cityfleet/core/events"
	"github.com/kilianp07/cityfleet/internal/eventbus"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	jsonl, err := Open(Config{Backend: "jsonl", Path: filepath.Join(dir, "journal.jsonl")})
	require.NoError(t, err)
	sqlite, err := Open(Config{Backend: "sqlite", Path: filepath.Join(dir, "journal.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = jsonl.Close()
		_ = sqlite.Close()
	})
	return map[string]Store{"jsonl": jsonl, "sqlite": sqlite}
}

func TestJournalAppendAndQuery(t *testing.T) {
	base := time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC)
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			j := New(store)
			other := New(store)
			require.NoError(t, j.Append(ctx, events.ContractEvent{ContractID: "c1", State: "OPEN", Time: base}))
			require.NoError(t, j.Append(ctx, events.LifecycleEvent{ActorID: "bus-1", Axis: events.AxisFuel, To: "AT_BASE", Time: base.Add(time.Second)}))
			require.NoError(t, j.Append(ctx, events.ContractEvent{ContractID: "c1", State: "AWARDED", Winner: "bus-2", Time: base.Add(2 * time.Second)}))
			require.NoError(t, other.Append(ctx, events.ContractEvent{ContractID: "c9", State: "OPEN", Time: base}))

			all, err := j.Query(ctx, Query{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, []uint64{1, 2, 3}, []uint64{all[0].Seq, all[1].Seq, all[2].Seq})

			contracts, err := j.Query(ctx, Query{Kind: "contract", Subject: "c1"})
			require.NoError(t, err)
			require.Len(t, contracts, 2)
			var ev events.ContractEvent
			require.NoError(t, json.Unmarshal(contracts[1].Event, &ev))
			assert.Equal(t, "bus-2", ev.Winner)
			assert.True(t, contracts[1].Time.Equal(base.Add(2*time.Second)))

			windowed, err := j.Query(ctx, Query{Start: base.Add(500 * time.Millisecond), End: base.Add(1500 * time.Millisecond)})
			require.NoError(t, err)
			require.Len(t, windowed, 1)
			assert.Equal(t, "bus-1", windowed[0].Subject)
		})
	}
}

func TestJournalStartWritesBusEvents(t *testing.T) {
	store, err := Open(Config{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "run.db")})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	bus := eventbus.NewTyped[events.Event]()
	j := New(store)
	ctx, cancel := context.WithCancel(context.Background())
	done := j.Start(ctx, bus, 16)
	bus.Publish(events.ResourceEvent{JobID: "job-1", Action: events.ResourceGranted, Time: time.Now()})
	bus.Publish(events.OccupancyEvent{VehicleID: "tram-1", Action: events.OccupancyBlocked, Time: time.Now()})

	require.Eventually(t, func() bool {
		recs, err := j.Query(context.Background(), Query{})
		return err == nil && len(recs) == 2
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
	assert.Zero(t, j.Failures())
	assert.NotEmpty(t, j.RunID())
}

func TestJSONLStoreRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	store, err := NewJSONLStore(path, 1, 2, 1)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	big := make([]byte, 64*1024)
	for i := range big {
		big[i] = 'x'
	}
	payload := json.RawMessage(`"` + string(big) + `"`)
	for i := 0; i < 20; i++ {
		require.NoError(t, store.Append(context.Background(), Record{RunID: "r", Seq: uint64(i + 1), Kind: "contract", Event: payload}))
	}
	files, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "log*.jsonl"))
	assert.Greater(t, len(files), 1)

	recs, err := store.Query(context.Background(), Query{RunID: "r"})
	require.NoError(t, err)
	assert.Len(t, recs, 20)
	assert.Equal(t, uint64(1), recs[0].Seq)
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	c := Config{}
	c.SetDefaults()
	assert.Equal(t, "jsonl", c.Backend)
	assert.Equal(t, "cityfleet-journal.jsonl", c.Path)
	require.NoError(t, c.Validate())

	c = Config{Backend: "sqlite"}
	c.SetDefaults()
	assert.Equal(t, "cityfleet-journal.db", c.Path)

	assert.Error(t, Config{Backend: "csv", Path: "x"}.Validate())
	require.NoError(t, Config{Backend: "none"}.Validate())
	s, err := Open(Config{Backend: "none"})
	require.NoError(t, err)
	assert.Nil(t, s)
}
