package fred

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/Correlator/models"
)

func newTestClient(t *testing.T, apiKey string, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientOptions{APIKey: apiKey, BaseURL: srv.URL, RequestsPerMinute: 6000, MaxRetries: 1})
}

func TestObservations(t *testing.T) {
	client := newTestClient(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/series/observations", r.URL.Path)
		assert.Equal(t, "UNRATE", q.Get("series_id"))
		assert.Equal(t, "secret", q.Get("api_key"))
		assert.Equal(t, "json", q.Get("file_type"))
		assert.Equal(t, "2024-01-01", q.Get("observation_start"))
		assert.Equal(t, "asc", q.Get("sort_order"))
		fmt.Fprint(w, `{"observations":[
			{"date":"2024-01-01","value":"3.7"},
			{"date":"2024-02-01","value":"."},
			{"date":"2024-03-01","value":"3.9"}
		]}`)
	})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows, err := client.Observations(context.Background(), "UNRATE", start, start.AddDate(0, 3, 0))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "UNRATE", rows[0].Symbol)
	assert.Equal(t, 3.7, rows[0].Close)
	assert.Equal(t, models.AssetClassEconomicIndicator, rows[0].AssetClass)
	assert.Equal(t, models.SourceFRED, rows[0].Source)
	assert.Equal(t, 1.0, rows[0].QualityScore)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), rows[1].Date)
}

func TestObservationsAPIError(t *testing.T) {
	client := newTestClient(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error_code":400,"error_message":"Bad Request. The series does not exist."}`)
	})

	_, err := client.Observations(context.Background(), "NOPE", time.Now().AddDate(0, -1, 0), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "series does not exist")
}

func TestMissingAPIKey(t *testing.T) {
	client := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected without an API key")
	})

	_, err := client.Collect(context.Background(), []string{"GDP"}, time.Now().AddDate(-1, 0, 0), time.Now())
	assert.True(t, errors.Is(err, ErrMissingAPIKey))
}

func TestSearchSeries(t *testing.T) {
	client := newTestClient(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/series/search", r.URL.Path)
		assert.Equal(t, "unemployment", r.URL.Query().Get("search_text"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"seriess":[{"id":"UNRATE","title":"Unemployment Rate","frequency":"Monthly","popularity":95}]}`)
	})

	series, err := client.SearchSeries(context.Background(), "unemployment", 5)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, "UNRATE", series[0].ID)
	assert.Equal(t, 95, series[0].Popularity)
}
