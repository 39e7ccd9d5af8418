package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/helios/internal/core"
	_ "github.com/JonMunkholm/helios/internal/core/tables"
	"github.com/JonMunkholm/helios/internal/database"
)

// fakeClock advances one second per call so updated_at changes are visible.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []core.Change
}

func (n *recordingNotifier) Publish(_ context.Context, c core.Change) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, c)
	return nil
}

func (n *recordingNotifier) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.changes))
	for i, c := range n.changes {
		out[i] = c.Event
	}
	return out
}

func newTestService(t *testing.T, opts ...core.Option) (*core.Service, *database.MemoryStore) {
	t.Helper()
	clock := newFakeClock()
	store := database.NewMemoryStore(database.WithMemoryClock(clock.Now))
	opts = append([]core.Option{core.WithClock(clock.Now)}, opts...)
	return core.NewService(store, opts...), store
}

func sheet(name string, headers []string, rows ...[]any) core.Sheet {
	if rows == nil {
		rows = [][]any{}
	}
	return core.Sheet{Name: name, Headers: headers, Rows: rows}
}

func batch(sheets ...core.Sheet) core.Batch {
	return core.Batch{Filename: "test.xlsx", Sheets: sheets}
}

func getRow(t *testing.T, store core.RowStore, table core.TableID, key ...any) core.Row {
	t.Helper()
	var row core.Row
	err := core.WithTx(context.Background(), store, func(tx core.Tx) error {
		var err error
		row, err = tx.Get(context.Background(), table, core.Key(key))
		return err
	})
	require.NoError(t, err)
	return row
}

func countRows(t *testing.T, store core.RowStore, table core.TableID) int {
	t.Helper()
	var n int
	err := core.WithTx(context.Background(), store, func(tx core.Tx) error {
		rows, err := tx.List(context.Background(), table, nil)
		n = len(rows)
		return err
	})
	require.NoError(t, err)
	return n
}

var readingHeaders = []string{
	"temperature_id", "camera_id", "preset_number", "measurement", "description",
	"zone_id", "zone_name", "customer_id", "customer_name",
}

func TestIngest_SynthesizesParentsFromOneRow(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res, err := svc.Ingest(ctx, core.ModeUpload, batch(sheet("north", readingHeaders,
		[]any{"101", "cam-1", "2", "36.5", "hot spot", "z1", "North", "c1", "Acme"},
	)))
	require.NoError(t, err)

	assert.Equal(t, core.ModeUpload, res.Mode)
	assert.NotEmpty(t, res.BatchID)
	assert.Equal(t, 1, res.Rows)
	assert.Equal(t, 6, res.Inserted())
	assert.Equal(t, 0, res.Updated())
	for _, table := range []core.TableID{
		core.TableCustomers, core.TableZones, core.TableCameras,
		core.TableCameraZones, core.TablePresets, core.TableTemperatures,
	} {
		assert.Equal(t, core.TableCount{Inserted: 1}, res.Counts[table], "table %s", table)
	}

	zone := getRow(t, store, core.TableZones, "z1")
	assert.Equal(t, "North", zone.Text("zone_name"))
	assert.Equal(t, "c1", zone.Text("customer_id"))

	temp := getRow(t, store, core.TableTemperatures, int64(101))
	assert.Equal(t, "cam-1", temp.Text("camera_id"))
	assert.Equal(t, int64(2), temp["preset_number"])
	assert.Equal(t, 36.5, temp["measurement"])

	getRow(t, store, core.TableCameraZones, "cam-1", "z1")
}

func TestIngest_Idempotent(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	b := batch(sheet("readings", readingHeaders,
		[]any{"1", "cam-1", "1", "20", "", "z1", "North", "c1", "Acme"},
		[]any{"2", "cam-1", "1", "21", "", "z1", "North", "c1", "Acme"},
	))

	first, err := svc.Ingest(ctx, core.ModeUpload, b)
	require.NoError(t, err)
	require.Positive(t, first.Inserted())
	before := getRow(t, store, core.TableTemperatures, int64(1))

	second, err := svc.Ingest(ctx, core.ModeUpload, b)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted())
	assert.Equal(t, first.Inserted(), second.Updated())

	after := getRow(t, store, core.TableTemperatures, int64(1))
	assert.Equal(t, before, after, "unchanged rows keep updated_at")
	assert.Equal(t, 2, countRows(t, store, core.TableTemperatures))
}

func TestIngest_UpdateKeepsOmittedValues(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, core.ModeUpload, batch(sheet("cams",
		[]string{"camera_id", "camera_ip", "brand", "model"},
		[]any{"cam-1", "10.0.0.1", "Flir", "A50"},
	)))
	require.NoError(t, err)
	before := getRow(t, store, core.TableCameras, "cam-1")

	res, err := svc.Ingest(ctx, core.ModeUpdate, batch(sheet("cams",
		[]string{"camera_id", "camera_ip", "brand", "model"},
		[]any{"cam-1", "10.0.0.9", "", nil},
	)))
	require.NoError(t, err)
	assert.Equal(t, core.TableCount{Updated: 1}, res.Counts[core.TableCameras])

	after := getRow(t, store, core.TableCameras, "cam-1")
	assert.Equal(t, "10.0.0.9", after.Text("camera_ip"))
	assert.Equal(t, "Flir", after.Text("brand"))
	assert.Equal(t, "A50", after.Text("model"))
	assert.True(t, after.Time(core.ColUpdatedAt).After(before.Time(core.ColUpdatedAt)))
	assert.Equal(t, before.Time(core.ColCreatedAt), after.Time(core.ColCreatedAt))
}

func TestIngest_ResolvesZoneByName(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, core.ModeUpload, batch(sheet("zones",
		[]string{"zone_id", "zone_name"},
		[]any{"z-42", "Boiler room"},
	)))
	require.NoError(t, err)

	res, err := svc.Ingest(ctx, core.ModeUpload, batch(sheet("cams",
		[]string{"camera_id", "zone_name"},
		[]any{"cam-7", "Boiler room"},
	)))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Counts[core.TableZones].Inserted)

	getRow(t, store, core.TableCameraZones, "cam-7", "z-42")
	assert.Equal(t, 1, countRows(t, store, core.TableZones))
}

func TestIngest_ZoneNameResolutionIgnoresRowOrder(t *testing.T) {
	headers := []string{"camera_id", "zone_id", "zone_name"}
	nameOnly := []any{"cam-1", "", "North"}
	declared := []any{"cam-2", "z1", "North"}

	tests := []struct {
		name string
		rows [][]any
	}{
		{"declaration last", [][]any{nameOnly, declared}},
		{"declaration first", [][]any{declared, nameOnly}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService(t)
			_, err := svc.Ingest(context.Background(), core.ModeUpload,
				batch(sheet("cams", headers, tt.rows...)))
			require.NoError(t, err)

			assert.Equal(t, 1, countRows(t, store, core.TableZones))
			getRow(t, store, core.TableCameraZones, "cam-1", "z1")
			getRow(t, store, core.TableCameraZones, "cam-2", "z1")
		})
	}
}

func TestIngest_KeysContainingSeparatorsStayDistinct(t *testing.T) {
	tests := []struct {
		name  string
		pairs [][]any
	}{
		{"pipe", [][]any{{"a|b", "c"}, {"a", "b|c"}}},
		{"comma", [][]any{{"a,b", "c"}, {"a", "b,c"}}},
		{"quote", [][]any{{`a"`, "b"}, {"a", `"b`}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService(t)
			_, err := svc.Ingest(context.Background(), core.ModeUpload,
				batch(sheet("links", []string{"camera_id", "zone_id"}, tt.pairs...)))
			require.NoError(t, err)

			assert.Equal(t, 2, countRows(t, store, core.TableCameraZones))
			for _, p := range tt.pairs {
				getRow(t, store, core.TableCameraZones, p...)
			}
		})
	}
}

func TestIngest_TemperatureFallsBackToStoredPreset(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, core.ModeUpload, batch(sheet("r", readingHeaders,
		[]any{"5", "cam-1", "3", "40", "", "", "", "", ""},
	)))
	require.NoError(t, err)

	_, err = svc.Ingest(ctx, core.ModeUpdate, batch(sheet("r",
		[]string{"temperature_id", "measurement"},
		[]any{"5", "41.5"},
	)))
	require.NoError(t, err)

	temp := getRow(t, store, core.TableTemperatures, int64(5))
	assert.Equal(t, "cam-1", temp.Text("camera_id"))
	assert.Equal(t, int64(3), temp["preset_number"])
	assert.Equal(t, 41.5, temp["measurement"])
}

func TestIngest_Errors(t *testing.T) {
	tests := []struct {
		name     string
		batch    core.Batch
		wantKind core.Kind
		wantRow  int
	}{
		{
			name:     "no sheets",
			batch:    core.Batch{},
			wantKind: core.KindSchemaMismatch,
		},
		{
			name:     "unknown headers",
			batch:    batch(sheet("x", []string{"foo", "bar"}, []any{"1", "2"})),
			wantKind: core.KindSchemaMismatch,
		},
		{
			name:     "short row",
			batch:    batch(sheet("x", []string{"customer_id", "customer_name"}, []any{"c1"})),
			wantKind: core.KindRowShape,
			wantRow:  2,
		},
		{
			name:     "bad number",
			batch:    batch(sheet("x", []string{"temperature_id", "camera_id", "preset_number", "measurement"}, []any{"1", "cam", "1", "warm"})),
			wantKind: core.KindInvalidValue,
			wantRow:  2,
		},
		{
			name: "reading without preset",
			batch: batch(sheet("x", []string{"temperature_id", "camera_id", "measurement"},
				[]any{"1", "cam-1", "20"},
				[]any{"2", "", "21"},
			)),
			wantKind: core.KindUnresolvableReference,
			wantRow:  2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			_, err := svc.Ingest(context.Background(), core.ModeUpload, tt.batch)
			require.Error(t, err)

			e, ok := core.AsError(err)
			require.True(t, ok, "want *core.Error, got %T: %v", err, err)
			assert.Equal(t, tt.wantKind, e.Kind, err.Error())
			if tt.wantRow > 0 {
				assert.Equal(t, tt.wantRow, e.Row)
			}
		})
	}
}

func TestIngest_FailureRollsBackWholeBatch(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, core.ModeUpload, batch(
		sheet("customers", []string{"customer_id", "customer_name"}, []any{"c1", "Acme"}),
		sheet("readings", []string{"temperature_id", "measurement"}, []any{"9", "12"}),
	))
	require.ErrorIs(t, err, core.ErrUnresolvableReference)

	assert.Equal(t, 0, countRows(t, store, core.TableCustomers))
	assert.Equal(t, 0, countRows(t, store, core.TableTemperatures))

	history, err := svc.ListBatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, core.BatchFailed, history[0].Status)
	assert.Contains(t, history[0].Error, "unresolvable reference")
	assert.Zero(t, history[0].Inserted)
}

func TestIngest_SkipsAlarmRows(t *testing.T) {
	svc, store := newTestService(t)

	res, err := svc.Ingest(context.Background(), core.ModeUpload, batch(sheet("r", readingHeaders,
		[]any{"1", "cam-1", "1", "20", "ALARM threshold", "", "", "", ""},
		[]any{"2", "cam-1", "1", "21", "normal", "", "", "", ""},
	)))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Rows)
	assert.Equal(t, 1, countRows(t, store, core.TableTemperatures))
}

func TestIngest_SkipKeywordDisabled(t *testing.T) {
	svc, store := newTestService(t, core.WithSkipKeyword(""))

	_, err := svc.Ingest(context.Background(), core.ModeUpload, batch(sheet("r", readingHeaders,
		[]any{"1", "cam-1", "1", "20", "alarm", "", "", "", ""},
	)))
	require.NoError(t, err)
	assert.Equal(t, 1, countRows(t, store, core.TableTemperatures))
}

func TestIngest_RecordsHistoryAndPublishes(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, _ := newTestService(t, core.WithNotifier(notifier))
	ctx := core.ContextWithIPAddress(context.Background(), "192.0.2.10")

	b := batch(sheet("customers", []string{"customer_id", "customer_name"}, []any{"c1", "Acme"}))
	b.ID = "batch-1"
	res, err := svc.Ingest(ctx, core.ModeUpload, b)
	require.NoError(t, err)
	assert.Equal(t, "batch-1", res.BatchID)

	rec, err := svc.GetBatch(ctx, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, core.BatchCommitted, rec.Status)
	assert.Equal(t, "test.xlsx", rec.Filename)
	assert.Equal(t, "192.0.2.10", rec.SourceIP)
	assert.Equal(t, int64(1), rec.Inserted)
	assert.Equal(t, int64(1), rec.Rows)

	require.Equal(t, []string{core.EventIngestCommitted}, notifier.events())
	assert.Equal(t, "batch-1", notifier.changes[0].BatchID)
	assert.Equal(t, core.TableCount{Inserted: 1}, notifier.changes[0].Counts[core.TableCustomers])
}

func TestIngest_FailedRetryKeepsCommittedRecord(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	good := batch(sheet("customers", []string{"customer_id"}, []any{"c1"}))
	good.ID = "b1"
	_, err := svc.Ingest(ctx, core.ModeUpload, good)
	require.NoError(t, err)

	bad := batch(sheet("x", []string{"nope"}, []any{"1"}))
	bad.ID = "b1"
	_, err = svc.Ingest(ctx, core.ModeUpload, bad)
	require.Error(t, err)

	rec, err := svc.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, core.BatchCommitted, rec.Status)
}

func TestIngest_BusyLimiter(t *testing.T) {
	limiter := core.NewIngestLimiter(1, 20*time.Millisecond)
	svc, _ := newTestService(t, core.WithIngestLimiter(limiter))

	require.NoError(t, limiter.Acquire(context.Background()))
	defer limiter.Release()

	_, err := svc.Ingest(context.Background(), core.ModeUpload, batch(sheet("c", []string{"customer_id"}, []any{"c1"})))
	assert.ErrorIs(t, err, core.ErrTooManyIngests)

	history, err := svc.ListBatches(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, history, "rejected batches are not recorded")
}

func TestIngest_ConcurrentBatchesSharingNewParent(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Ingest(ctx, core.ModeUpload, batch(sheet("cams",
				[]string{"camera_id", "zone_id", "customer_id"},
				[]any{"cam-" + string(rune('a'+i)), "z-shared", "c-shared"},
			)))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, countRows(t, store, core.TableZones))
	assert.Equal(t, 1, countRows(t, store, core.TableCustomers))
	assert.Equal(t, 4, countRows(t, store, core.TableCameraZones))
}

func TestPreview_DoesNotPersist(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, core.ModeUpload, batch(sheet("c", []string{"customer_id", "customer_name"}, []any{"c1", "Acme"})))
	require.NoError(t, err)

	res, err := svc.Preview(ctx, batch(sheet("c", []string{"customer_id", "customer_name"},
		[]any{"c1", "Acme Corp"},
		[]any{"c2", "Globex"},
	)))
	require.NoError(t, err)
	require.Len(t, res.Tables, 1)
	assert.Equal(t, core.TableCustomers, res.Tables[0].Table)
	assert.Equal(t, 1, res.Tables[0].Inserts)
	assert.Equal(t, 1, res.Tables[0].Updates)
	assert.Len(t, res.Tables[0].Samples, 2)

	assert.Equal(t, 1, countRows(t, store, core.TableCustomers))
	assert.Equal(t, "Acme", getRow(t, store, core.TableCustomers, "c1").Text("customer_name"))

	history, err := svc.ListBatches(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1, "preview is not recorded")
}

func TestPreview_ReportsErrors(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Preview(context.Background(), batch(sheet("x", []string{"temperature_id"}, []any{"1"})))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrUnresolvableReference))
}
