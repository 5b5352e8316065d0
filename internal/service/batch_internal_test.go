package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/UnknownOlympus/atlas-batch/internal/geocoding"
	"github.com/UnknownOlympus/atlas-batch/internal/metrics"
	"github.com/UnknownOlympus/atlas-batch/internal/models"
	"github.com/UnknownOlympus/atlas-batch/internal/sheet"
	"github.com/UnknownOlympus/atlas-batch/test/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeProvider answers from a fixed table of errors and falls back to coords.
type fakeProvider struct {
	coords models.Coordinates
	errs   map[string]error
	calls  []string
}

func (fp *fakeProvider) Geocode(_ context.Context, address string) (*models.Coordinates, error) {
	fp.calls = append(fp.calls, address)
	if err, ok := fp.errs[address]; ok {
		return nil, err
	}
	coords := fp.coords
	return &coords, nil
}

func ptr(v float64) *float64 { return &v }

func newTestProcessor(
	t *testing.T,
	store *mocks.Store,
	provider geocoding.Provider,
	limit int,
) (*BatchProcessor, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return NewBatchProcessor(logger, store, provider, "fake", m, Options{DailyLimit: limit}), m
}

func sampleTable() *models.AddressTable {
	return &models.AddressTable{Rows: []*models.Row{
		{Index: 0, Address: "A"},
		{Index: 1, Address: "B", Lat: ptr(1.5), Long: ptr(2.5)},
		{Index: 2, Address: "C"},
		{Index: 3, Address: "D", Lat: ptr(3.5)},
		{Index: 4, Address: "E"},
	}}
}

func TestRun(t *testing.T) {
	fixed := models.Coordinates{Latitude: 50.45, Longitude: 30.52}

	t.Run("fills every candidate with the provider result", func(t *testing.T) {
		store := mocks.NewStore(t)
		provider := &fakeProvider{coords: fixed}
		table := sampleTable()
		store.On("Load", mock.Anything).Return(table, nil).Once()
		store.On("Save", mock.Anything, table).Return(nil).Once()
		processor, m := newTestProcessor(t, store, provider, 0)

		summary, err := processor.Run(t.Context(), 0)

		require.NoError(t, err)
		assert.Equal(t, []string{"A", "C", "D", "E"}, provider.calls)
		assert.Equal(t, Summary{Candidates: 4, Selected: 4, Processed: 4, Resolved: 4, Saved: true}, summary)
		for _, idx := range []int{0, 2, 3, 4} {
			assert.InEpsilon(t, 50.45, *table.Rows[idx].Lat, 1e-9)
			assert.InEpsilon(t, 30.52, *table.Rows[idx].Long, 1e-9)
		}
		assert.InEpsilon(t, 1.5, *table.Rows[1].Lat, 1e-9, "resolved rows stay unchanged")
		assert.InEpsilon(t, 2.5, *table.Rows[1].Long, 1e-9)
		assert.False(t, table.Rows[1].Dirty)
		assert.InDelta(t, 4, testutil.ToFloat64(m.RowsProcessed.WithLabelValues("resolved")), 0)
		assert.Positive(t, testutil.ToFloat64(m.LastSuccess))
	})

	t.Run("rows before the start index are skipped", func(t *testing.T) {
		store := mocks.NewStore(t)
		provider := &fakeProvider{coords: fixed}
		table := sampleTable()
		store.On("Load", mock.Anything).Return(table, nil).Once()
		store.On("Save", mock.Anything, table).Return(nil).Once()
		processor, _ := newTestProcessor(t, store, provider, 0)

		summary, err := processor.Run(t.Context(), 3)

		require.NoError(t, err)
		assert.Equal(t, []string{"D", "E"}, provider.calls)
		assert.Equal(t, 2, summary.Processed)
		assert.Nil(t, table.Rows[0].Lat)
		assert.Nil(t, table.Rows[2].Lat)
		assert.False(t, table.Rows[0].Dirty)
		assert.False(t, table.Rows[2].Dirty)
	})

	t.Run("daily limit caps provider calls", func(t *testing.T) {
		store := mocks.NewStore(t)
		provider := &fakeProvider{coords: fixed}
		table := sampleTable()
		store.On("Load", mock.Anything).Return(table, nil).Once()
		store.On("Save", mock.Anything, table).Return(nil).Once()
		processor, m := newTestProcessor(t, store, provider, 2)

		summary, err := processor.Run(t.Context(), 0)

		require.NoError(t, err)
		assert.Equal(t, []string{"A", "C"}, provider.calls)
		assert.Equal(t, 4, summary.Candidates)
		assert.Equal(t, 2, summary.Selected)
		assert.Nil(t, table.Rows[4].Lat)
		assert.False(t, table.Rows[4].Dirty)
		assert.InDelta(t, 2, testutil.ToFloat64(m.RowsSelected), 0)
	})

	t.Run("rate limited address does not abort the batch", func(t *testing.T) {
		store := mocks.NewStore(t)
		provider := &fakeProvider{coords: fixed, errs: map[string]error{
			"C": &geocoding.StatusError{Provider: "fake", StatusCode: http.StatusTooManyRequests},
		}}
		table := sampleTable()
		store.On("Load", mock.Anything).Return(table, nil).Once()
		store.On("Save", mock.Anything, table).Return(nil).Once()
		processor, m := newTestProcessor(t, store, provider, 0)

		summary, err := processor.Run(t.Context(), 0)

		require.NoError(t, err)
		assert.Equal(t, []string{"A", "C", "D", "E"}, provider.calls)
		assert.Nil(t, table.Rows[2].Lat)
		assert.Nil(t, table.Rows[2].Long)
		assert.True(t, table.Rows[2].Dirty)
		assert.NotNil(t, table.Rows[4].Lat)
		assert.Equal(t, 3, summary.Resolved)
		assert.Equal(t, 1, summary.Unresolved)
		assert.InDelta(t, 1, testutil.ToFloat64(m.ProviderErrors.WithLabelValues("rate_limited")), 0)
	})

	t.Run("nothing to do does not save", func(t *testing.T) {
		store := mocks.NewStore(t)
		provider := mocks.NewProvider(t)
		store.On("Load", mock.Anything).Return(sampleTable(), nil).Once()
		processor, _ := newTestProcessor(t, store, provider, 0)

		summary, err := processor.Run(t.Context(), 5)

		require.NoError(t, err)
		assert.Equal(t, Summary{}, summary)
		store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("load error", func(t *testing.T) {
		store := mocks.NewStore(t)
		provider := mocks.NewProvider(t)
		store.On("Load", mock.Anything).Return(nil, assert.AnError).Once()
		processor, _ := newTestProcessor(t, store, provider, 0)

		_, err := processor.Run(t.Context(), 0)

		require.ErrorIs(t, err, ErrLoad)
		require.ErrorIs(t, err, assert.AnError)
	})

	t.Run("save error", func(t *testing.T) {
		store := mocks.NewStore(t)
		provider := &fakeProvider{coords: fixed}
		table := sampleTable()
		store.On("Load", mock.Anything).Return(table, nil).Once()
		store.On("Save", mock.Anything, table).Return(assert.AnError).Once()
		processor, m := newTestProcessor(t, store, provider, 0)

		summary, err := processor.Run(t.Context(), 0)

		require.ErrorIs(t, err, ErrSave)
		require.ErrorIs(t, err, assert.AnError)
		assert.False(t, summary.Saved)
		assert.Equal(t, 4, summary.Processed)
		assert.Zero(t, testutil.ToFloat64(m.LastSuccess))
	})

	t.Run("negative start index", func(t *testing.T) {
		processor, _ := newTestProcessor(t, mocks.NewStore(t), mocks.NewProvider(t), 0)

		_, err := processor.Run(t.Context(), -1)

		require.ErrorIs(t, err, ErrInvalidStartIndex)
	})

	t.Run("cancelled context saves processed rows", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		store := mocks.NewStore(t)
		provider := mocks.NewProvider(t)
		table := sampleTable()
		store.On("Load", mock.Anything).Return(table, nil).Once()
		store.On("Save", mock.Anything, table).Return(nil).Once()
		provider.On("Geocode", mock.Anything, "A").
			Run(func(_ mock.Arguments) { cancel() }).
			Return(&fixed, nil).Once()
		processor, _ := newTestProcessor(t, store, provider, 0)

		summary, err := processor.Run(ctx, 0)

		require.NoError(t, err)
		assert.Equal(t, 1, summary.Processed)
		assert.True(t, summary.Saved)
		assert.True(t, table.Rows[0].Resolved())
		assert.False(t, table.Rows[2].Dirty)
	})

	t.Run("row interrupted mid-request keeps its loaded values", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		store := mocks.NewStore(t)
		provider := mocks.NewProvider(t)
		table := sampleTable()
		store.On("Load", mock.Anything).Return(table, nil).Once()
		store.On("Save", mock.Anything, table).Return(nil).Once()
		provider.On("Geocode", mock.Anything, "D").
			Run(func(_ mock.Arguments) { cancel() }).
			Return(nil, context.Canceled).Once()

		var logs bytes.Buffer
		m := metrics.NewMetrics(prometheus.NewRegistry())
		processor := NewBatchProcessor(slog.New(slog.NewTextHandler(&logs, nil)), store, provider, "fake", m, Options{})

		summary, err := processor.Run(ctx, 3)

		require.NoError(t, err)
		assert.Equal(t, 0, summary.Processed)
		assert.Equal(t, 0, summary.Unresolved)
		assert.True(t, summary.Saved)
		require.NotNil(t, table.Rows[3].Lat)
		assert.InEpsilon(t, 3.5, *table.Rows[3].Lat, 1e-9)
		assert.False(t, table.Rows[3].Dirty)
		assert.NotContains(t, logs.String(), "Failed to retrieve coordinates")
		assert.Contains(t, logs.String(), "Batch interrupted, saving progress")
		assert.InDelta(t, 0, testutil.ToFloat64(m.ProviderErrors.WithLabelValues("request_failed")), 0)
	})
}

func TestRun_ProgressNotices(t *testing.T) {
	rows := make([]*models.Row, 250)
	for idx := range rows {
		rows[idx] = &models.Row{Index: idx, Address: fmt.Sprintf("addr %d", idx)}
	}
	table := &models.AddressTable{Rows: rows}

	store := mocks.NewStore(t)
	store.On("Load", mock.Anything).Return(table, nil).Once()
	store.On("Save", mock.Anything, table).Return(nil).Once()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	processor := NewBatchProcessor(logger, store, &fakeProvider{}, "fake",
		metrics.NewMetrics(prometheus.NewRegistry()), Options{})

	_, err := processor.Run(t.Context(), 0)

	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(logs.String(), "msg=Progress"))
	assert.Contains(t, logs.String(), "processed=200 total=250")
}

func TestRun_CSVFileUntouchedWhenNothingToDo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "addresses.csv")
	content := []byte("ADDRESS_CONCAT,LAT,LONG\nKyiv,50.45,30.52\nLviv,49.84,24.03\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, past, past))

	processor := NewBatchProcessor(slog.Default(), sheet.NewCSVStore(path), mocks.NewProvider(t), "fake",
		metrics.NewMetrics(prometheus.NewRegistry()), Options{})

	summary, err := processor.Run(t.Context(), 0)

	require.NoError(t, err)
	assert.False(t, summary.Saved)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(past))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestRun_CSVFileEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "addresses.csv")
	require.NoError(t, os.WriteFile(path, []byte("ADDRESS_CONCAT,LAT,LONG\nKyiv,,\nX,,\nLviv,49.84,24.03\n"), 0o600))

	provider := &fakeProvider{
		coords: models.Coordinates{Latitude: 1.25, Longitude: -2.5},
		errs:   map[string]error{"X": &geocoding.StatusError{StatusCode: http.StatusTooManyRequests}},
	}
	processor := NewBatchProcessor(slog.Default(), sheet.NewCSVStore(path), provider, "fake",
		metrics.NewMetrics(prometheus.NewRegistry()), Options{})

	summary, err := processor.Run(t.Context(), 0)

	require.NoError(t, err)
	assert.True(t, summary.Saved)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ADDRESS_CONCAT,LAT,LONG\nKyiv,1.25,-2.5\nX,,\nLviv,49.84,24.03\n", string(got))
}

func TestGeocodeAddress(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason models.Reason
	}{
		{"no match", geocoding.ErrEmptyResponse, models.ReasonNoMatch},
		{"rate limited", &geocoding.StatusError{StatusCode: http.StatusTooManyRequests}, models.ReasonRateLimited},
		{"google quota", fmt.Errorf("%w: quota", geocoding.ErrRateLimited), models.ReasonRateLimited},
		{"server error", &geocoding.StatusError{StatusCode: http.StatusBadGateway}, models.ReasonHTTPError},
		{"bad coordinates", fmt.Errorf("%w: invalid latitude", geocoding.ErrInvalidCoords), models.ReasonInvalidCoordinates},
		{"network", assert.AnError, models.ReasonRequestFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := mocks.NewProvider(t)
			provider.On("Geocode", mock.Anything, "addr").Return(nil, tt.err).Once()
			processor, m := newTestProcessor(t, mocks.NewStore(t), provider, 0)

			result := processor.geocodeAddress(t.Context(), "addr")

			assert.False(t, result.IsResolved())
			assert.Equal(t, tt.reason, result.Reason)
			require.ErrorIs(t, result.Err, tt.err)
			assert.InDelta(t, 1, testutil.ToFloat64(m.ProviderErrors.WithLabelValues(string(tt.reason))), 0)
		})
	}

	t.Run("resolved", func(t *testing.T) {
		provider := mocks.NewProvider(t)
		provider.On("Geocode", mock.Anything, "addr").
			Return(&models.Coordinates{Latitude: 1, Longitude: 2}, nil).Once()
		processor, _ := newTestProcessor(t, mocks.NewStore(t), provider, 0)

		result := processor.geocodeAddress(t.Context(), "addr")

		require.True(t, result.IsResolved())
		assert.Equal(t, models.Coordinates{Latitude: 1, Longitude: 2}, *result.Coordinates)
		assert.NoError(t, result.Err)
	})
}
