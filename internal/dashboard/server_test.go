package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/exodash/internal/chart"
	"github.com/banshee-data/exodash/internal/config"
	"github.com/banshee-data/exodash/internal/controller"
	"github.com/banshee-data/exodash/internal/db"
	"github.com/banshee-data/exodash/internal/exoplanet"
	"github.com/banshee-data/exodash/internal/monitoring"
)

func testTable() *exoplanet.Table {
	rows := []exoplanet.Row{
		{RowID: "A", OrbitalPeriodDays: 10, PlanetRadius: 6, StarRadius: 0.7, PlanetTemperature: 300, SemiMajorAxis: 1.0},
		{RowID: "B", OrbitalPeriodDays: 20, PlanetRadius: 60, StarRadius: 1.0, PlanetTemperature: 500, SemiMajorAxis: 2.0},
		{RowID: "C", OrbitalPeriodDays: 5, PlanetRadius: 12, StarRadius: 1.5, PlanetTemperature: 900, SemiMajorAxis: 0.2},
	}
	meta := exoplanet.Meta{Source: "http://example.com/api/kepler", LoadedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Fetched: 3}
	return exoplanet.DeriveStarSize(exoplanet.NewTable(rows, meta), exoplanet.DefaultBuckets())
}

type fixture struct {
	server *Server
	ctrl   *controller.Controller
	mirror *db.DB
}

func newFixture(t *testing.T, layout string) *fixture {
	t.Helper()
	original := monitoring.Logf
	monitoring.SetLogger(func(string, ...interface{}) {})
	t.Cleanup(func() { monitoring.Logf = original })

	table := testTable()
	ctrl, err := controller.New(table, exoplanet.DefaultFilterState())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	mirror, err := db.NewDB(db.MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { mirror.Close() })
	require.NoError(t, mirror.ReplaceTable(context.Background(), table))

	srv, err := NewServer(ServerConfig{
		Title:             "DashGraph",
		Layout:            layout,
		AssetsHost:        "http://assets.local/",
		RadiusMarks:       []float64{5, 10, 20},
		Table:             table,
		Controller:        ctrl,
		Mirror:            mirror,
		HeartbeatInterval: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	return &fixture{server: srv, ctrl: ctrl, mirror: mirror}
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "127.0.0.1:12345"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeSpec(t *testing.T, w *httptest.ResponseRecorder) chart.Spec {
	t.Helper()
	var spec chart.Spec
	require.NoError(t, json.NewDecoder(w.Body).Decode(&spec))
	return spec
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)

	ctrl, err := controller.New(testTable(), exoplanet.DefaultFilterState())
	require.NoError(t, err)
	_, err = NewServer(ServerConfig{Table: testTable(), Controller: ctrl, Layout: "fancy"})
	assert.Error(t, err)
}

func TestIndexLayouts(t *testing.T) {
	for _, layout := range []string{config.LayoutPlain, config.LayoutGrid} {
		t.Run(layout, func(t *testing.T) {
			f := newFixture(t, layout)
			w := f.do(http.MethodGet, "/", "")
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			body := w.Body.String()
			assert.Contains(t, body, "<title>DashGraph</title>")
			assert.Contains(t, body, "http://assets.local/echarts.min.js")
			assert.Contains(t, body, `id="radius-min"`)
			assert.Contains(t, body, `value="small" selected`)
			assert.Contains(t, body, `value="similar" selected`)
			assert.NotContains(t, body, `value="bigger" selected`)
			// Slider spans the loaded radii 6..60 widened to the default 5..50.
			assert.Contains(t, body, `min="5" max="60"`)
			if layout == config.LayoutGrid {
				assert.Contains(t, body, `class="grid"`)
			}
		})
	}
}

func TestIndexControls(t *testing.T) {
	f := newFixture(t, config.LayoutPlain)
	_, err := f.ctrl.Apply(context.Background(), controller.StarSizesChanged(exoplanet.NewSelection(exoplanet.Bigger)))
	require.NoError(t, err)

	w := f.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	doc, err := goquery.NewDocumentFromReader(w.Body)
	require.NoError(t, err)

	var options, selected []string
	doc.Find("#star-sizes option").Each(func(_ int, s *goquery.Selection) {
		v, _ := s.Attr("value")
		options = append(options, v)
		if _, ok := s.Attr("selected"); ok {
			selected = append(selected, v)
		}
	})
	assert.Equal(t, []string{"small", "similar", "bigger"}, options)
	assert.Equal(t, []string{"bigger"}, selected, "page reflects the current state")

	var marks []string
	doc.Find("#radius-marks option").Each(func(_ int, s *goquery.Selection) {
		marks = append(marks, s.AttrOr("value", ""))
	})
	assert.Equal(t, []string{"5", "10", "20"}, marks)

	for _, id := range []string{"#radius-min", "#radius-max"} {
		input := doc.Find(id)
		require.Equal(t, 1, input.Length(), id)
		assert.Equal(t, "1", input.AttrOr("step", ""), id)
		assert.Equal(t, "radius-marks", input.AttrOr("list", ""), id)
	}
	assert.Equal(t, "5", doc.Find("#radius-min").AttrOr("value", ""))
	assert.Equal(t, "50", doc.Find("#radius-max").AttrOr("value", ""))
}

func TestPageDataFollowsChartFilter(t *testing.T) {
	f := newFixture(t, config.LayoutPlain)
	rendered := f.ctrl.Current()

	_, err := f.ctrl.Apply(context.Background(), controller.RadiusChanged(1, 2))
	require.NoError(t, err)
	_, err = f.ctrl.Apply(context.Background(), controller.StarSizesChanged(exoplanet.NewSelection(exoplanet.Bigger)))
	require.NoError(t, err)

	data := f.server.pageDataFor(rendered)
	assert.Equal(t, rendered.Revision, data.Spec.Revision)
	assert.Equal(t, exoplanet.RadiusRange{Min: 5, Max: 50}, data.Radius, "controls match the embedded chart")
	var selected []exoplanet.StarSize
	for _, o := range data.Options {
		if o.Selected {
			selected = append(selected, o.Value)
		}
	}
	assert.Equal(t, []exoplanet.StarSize{exoplanet.Small, exoplanet.Similar}, selected)

	current := f.server.pageData()
	assert.Equal(t, exoplanet.RadiusRange{Min: 1, Max: 2}, current.Radius)
}

func TestIndexTemplateError(t *testing.T) {
	f := newFixture(t, config.LayoutPlain)
	mock := &MockTemplateProvider{ExecuteError: errors.New("boom")}
	f.server.cfg.Templates = mock

	w := f.do(http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.Len(t, mock.ExecuteCalls, 1)
	assert.Equal(t, "plain.html.tmpl", mock.ExecuteCalls[0].Name)
	data, ok := mock.ExecuteCalls[0].Data.(PageData)
	require.True(t, ok)
	assert.Equal(t, exoplanet.RadiusRange{Min: 5, Max: 50}, data.Radius)
}

func TestGetChart(t *testing.T) {
	f := newFixture(t, config.LayoutPlain)
	w := f.do(http.MethodGet, "/api/chart", "")
	require.Equal(t, http.StatusOK, w.Code)

	spec := decodeSpec(t, w)
	require.Len(t, spec.Points, 1)
	assert.Equal(t, chart.Point{X: 300, Y: 1.0, Color: "A"}, spec.Points[0])
	assert.Equal(t, uint64(1), spec.Revision)
}

func TestPostRadius(t *testing.T) {
	f := newFixture(t, config.LayoutPlain)

	w := f.do(http.MethodPost, "/api/filter/radius", `{"min": 0, "max": 100}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	spec := decodeSpec(t, w)
	assert.Len(t, spec.Points, 2, "A and B pass, C is bigger")
	assert.Equal(t, uint64(2), spec.Revision)

	w = f.do(http.MethodPost, "/api/filter/radius", `{"min": 50, "max": 5}`)
	require.Equal(t, http.StatusOK, w.Code)
	spec = decodeSpec(t, w)
	assert.NotNil(t, spec.Points)
	assert.Empty(t, spec.Points, "swapped bounds are valid and empty")
}

func TestPostRadiusBadRequests(t *testing.T) {
	f := newFixture(t, config.LayoutPlain)
	tests := []struct {
		name string
		body string
	}{
		{"not json", `min=1`},
		{"missing max", `{"min": 1}`},
		{"unknown field", `{"min": 1, "max": 2, "step": 1}`},
		{"string bound", `{"min": "a", "max": 2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/api/filter/radius", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
	assert.Equal(t, uint64(1), f.ctrl.Current().Revision, "rejected requests do not publish")
}

func TestPostStarSizes(t *testing.T) {
	f := newFixture(t, config.LayoutPlain)

	w := f.do(http.MethodPost, "/api/filter/star-sizes", `{"star_sizes": ["bigger"]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	spec := decodeSpec(t, w)
	require.Len(t, spec.Points, 1)
	assert.Equal(t, "C", spec.Points[0].Color)

	w = f.do(http.MethodPost, "/api/filter/star-sizes", `{"star_sizes": []}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeSpec(t, w).Points)

	w = f.do(http.MethodPost, "/api/filter/star-sizes", `{"star_sizes": ["huge"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/filter/star-sizes", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStateAndDataset(t *testing.T) {
	f := newFixture(t, config.LayoutPlain)

	w := f.do(http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st controller.Status
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	assert.Equal(t, exoplanet.RadiusRange{Min: 5, Max: 50}, st.Filter.Radius)
	assert.Equal(t, []exoplanet.StarSize{exoplanet.Small, exoplanet.Similar}, st.Filter.StarSizes.Labels())

	w = f.do(http.MethodGet, "/api/dataset", "")
	require.Equal(t, http.StatusOK, w.Code)
	var sum exoplanet.Summary
	require.NoError(t, json.NewDecoder(w.Body).Decode(&sum))
	assert.Equal(t, 3, sum.Rows)
	assert.Equal(t, 1, sum.ByStarSize[exoplanet.Bigger])
	assert.Equal(t, 60.0, sum.PlanetRadius.Max)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, config.LayoutPlain)
	w := f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 3.0, body["rows"])
}

func TestChartRenderers(t *testing.T) {
	f := newFixture(t, config.LayoutGrid)

	w := f.do(http.MethodGet, "/chart", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), chart.Title)

	w = f.do(http.MethodGet, "/chart.png", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "\x89PNG"))

	w = f.do(http.MethodGet, "/chart.svg", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/svg+xml", w.Header().Get("Content-Type"))
}

type failingWriter struct {
	header http.Header
}

func (w *failingWriter) Header() http.Header       { return w.header }
func (w *failingWriter) WriteHeader(int)           {}
func (w *failingWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestChartImageWriteErrorLogged(t *testing.T) {
	f := newFixture(t, config.LayoutPlain)

	var mu sync.Mutex
	var logged []string
	monitoring.SetLogger(func(format string, args ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		logged = append(logged, fmt.Sprintf(format, args...))
	})

	w := &failingWriter{header: make(http.Header)}
	req := httptest.NewRequest(http.MethodGet, "/chart.png", nil)
	f.server.handleChartImage("png")(w, req)

	assert.Equal(t, "image/png", w.header.Get("Content-Type"))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, logged, 1)
	assert.Contains(t, logged[0], "connection reset")
}

func TestDebugRoutes(t *testing.T) {
	f := newFixture(t, config.LayoutPlain)

	w := f.do(http.MethodGet, "/debug/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http://example.com/api/kepler")

	w = f.do(http.MethodGet, "/debug/filter-check", "")
	require.Equal(t, http.StatusOK, w.Code)
	var check filterCheck
	require.NoError(t, json.NewDecoder(w.Body).Decode(&check))
	assert.True(t, check.Agree)
	assert.Equal(t, []string{"A"}, check.InMemory)

	w = f.do(http.MethodGet, "/debug/mirror-stats", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

// readEvent returns the data line of the next SSE "chart" event.
func readEvent(t *testing.T, sc *bufio.Scanner) chart.Spec {
	t.Helper()
	event := ""
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && event == "chart":
			var spec chart.Spec
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &spec))
			return spec
		}
	}
	t.Fatalf("stream ended: %v", sc.Err())
	return chart.Spec{}
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, config.LayoutPlain)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Serve(ctx, ln) }()
	defer func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	}()

	base := "http://" + ln.Addr().String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	first := readEvent(t, sc)
	assert.Equal(t, uint64(1), first.Revision, "current chart sent first")

	_, err = f.ctrl.Apply(context.Background(), controller.RadiusChanged(0, 100))
	require.NoError(t, err)

	next := readEvent(t, sc)
	assert.Equal(t, uint64(2), next.Revision)
	assert.Len(t, next.Points, 2)
}
