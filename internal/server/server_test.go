package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kabuscan/kabuscan/internal/config"
	"github.com/kabuscan/kabuscan/internal/database"
	"github.com/kabuscan/kabuscan/internal/modelstore"
	"github.com/kabuscan/kabuscan/internal/pipeline"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	db, err := database.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := modelstore.New(db, filepath.Join(dir, "models"), zerolog.Nop())
	require.NoError(t, err)
	runs, err := pipeline.NewRunRepository(db, zerolog.Nop())
	require.NoError(t, err)

	opts := config.DefaultOptions()
	opts.Horizons = []config.HorizonOption{{Days: 1, Weight: 0.5}, {Days: 5, Weight: 0.5}}
	opts.MinRows = 50
	opts.Window = config.WindowOptions{TrainDays: 40, ValidationDays: 10, StepDays: 10, MinWindows: 2}
	opts.SkipSearch = true
	opts.Fixed = config.FixedOptions{Lambda: 0.01}

	svc := pipeline.New(opts, store, runs, zerolog.Nop())

	return New(Config{
		Port:     0,
		Log:      zerolog.Nop(),
		Pipeline: svc,
		Runs:     runs,
		Store:    store,
		DevMode:  true,
	})
}

func runRequestBody(t *testing.T) []byte {
	t.Helper()
	type row struct {
		Symbol   string             `json:"symbol"`
		Date     string             `json:"date"`
		Features []float64          `json:"features"`
		Labels   map[string]float64 `json:"labels"`
	}
	payload := struct {
		Columns     []string           `json:"columns"`
		Rows        []row              `json:"rows"`
		Fundamental map[string]float64 `json:"fundamental"`
		Risk        map[string]float64 `json:"risk"`
	}{
		Columns:     []string{"signal", "wobble"},
		Fundamental: map[string]float64{"6758": 0.8, "7203": 0.4},
		Risk:        map[string]float64{"6758": 0.6, "7203": 0.6},
	}

	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	levels := map[string]float64{"6758": 0.9, "7203": 0.2}
	const days = 120
	for symbol, level := range levels {
		for i := 0; i < days; i++ {
			wobble := 0.1 * float64(i%5)
			f0 := level + wobble
			labels := map[string]float64{}
			for _, h := range []int{1, 5} {
				if i+h < days {
					labels[fmt.Sprintf("%d", h)] = 0.1 * f0
				}
			}
			payload.Rows = append(payload.Rows, row{
				Symbol:   symbol,
				Date:     start.AddDate(0, 0, i).Format("2006-01-02"),
				Features: []float64{f0, wobble},
				Labels:   labels,
			})
		}
	}

	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return body
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestSystemStatusEndpoint(t *testing.T) {
	srv := testServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body["status"])
	assert.Contains(t, body, "goroutines")
}

func TestScoringRunEndpoint(t *testing.T) {
	srv := testServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/scoring/run", bytes.NewReader(runRequestBody(t)))
	req.Header.Set("Content-Type", "application/json")
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report pipeline.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.NotEmpty(t, report.RunID)
	require.Len(t, report.Ranking, 2)
	assert.Equal(t, "6758", report.Ranking[0].Symbol)
	assert.False(t, report.Degraded)

	// The run is persisted and visible through the read endpoints.
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scoring/latest", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var latest struct {
		Run     pipeline.RunRecord `json:"run"`
		Ranking []json.RawMessage  `json:"ranking"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	assert.Equal(t, report.RunID, latest.Run.ID)
	assert.Len(t, latest.Ranking, 2)

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var models struct {
		Models []modelstore.Record `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &models))
	assert.Len(t, models.Models, 2)
}

func TestScoringRunRejectsBadBody(t *testing.T) {
	srv := testServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/scoring/run", bytes.NewReader([]byte("{not json")))
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/scoring/run", bytes.NewReader([]byte(`{"columns":["a"],"rows":[{"symbol":"x","date":"not-a-date","features":[1]}]}`)))
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScoringRunInsufficientData(t *testing.T) {
	srv := testServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/scoring/run", bytes.NewReader([]byte(`{"columns":["a"],"rows":[{"symbol":"x","date":"2024-01-02","features":[1],"labels":{"1":0.1}}]}`)))
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestLatestRankingEmpty(t *testing.T) {
	srv := testServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scoring/latest", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
