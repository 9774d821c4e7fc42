package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/exodash/internal/chart"
	"github.com/banshee-data/exodash/internal/config"
	"github.com/banshee-data/exodash/internal/controller"
	"github.com/banshee-data/exodash/internal/exoplanet"
	"github.com/banshee-data/exodash/internal/httputil"
	"github.com/banshee-data/exodash/internal/monitoring"
	"github.com/banshee-data/exodash/internal/version"
)

const maxRequestBody = 64 * 1024

// StarSizeOption is one entry of the star size multi-select.
type StarSizeOption struct {
	Value    exoplanet.StarSize
	Selected bool
}

// PageData is passed to the page templates.
type PageData struct {
	Title      string
	Layout     string
	Theme      string
	AssetsHost string
	Version    string

	SliderMin float64
	SliderMax float64
	Marks     []float64
	Radius    exoplanet.RadiusRange
	Options   []StarSizeOption

	Spec chart.Spec
}

func (s *Server) theme() string {
	if s.cfg.Layout == config.LayoutGrid {
		return "dark"
	}
	return "white"
}

func (s *Server) pageData() PageData {
	return s.pageDataFor(s.cfg.Controller.Current())
}

// pageDataFor takes the control values from the filter that produced spec.
func (s *Server) pageDataFor(spec chart.Spec) PageData {
	var state exoplanet.FilterState
	if spec.Filter != nil {
		state = spec.Filter.Clone()
	} else {
		state = s.cfg.Controller.State()
	}
	lo, hi := s.sliderBounds(state.Radius)

	options := make([]StarSizeOption, 0, len(exoplanet.StarSizes))
	for _, size := range exoplanet.StarSizes {
		options = append(options, StarSizeOption{Value: size, Selected: state.StarSizes.Contains(size)})
	}

	return PageData{
		Title:      s.cfg.Title,
		Layout:     s.cfg.Layout,
		Theme:      s.theme(),
		AssetsHost: s.cfg.AssetsHost,
		Version:    version.String(),
		SliderMin:  lo,
		SliderMax:  hi,
		Marks:      s.cfg.RadiusMarks,
		Radius:     state.Radius,
		Options:    options,
		Spec:       spec,
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.cfg.Templates.ExecuteTemplate(&buf, templateName(s.cfg.Layout), s.pageData()); err != nil {
		monitoring.Logf("render page: %v", err)
		httputil.InternalServerError(w, "failed to render page")
		return
	}
	httputil.WriteHTML(w, buf.Bytes())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]interface{}{
		"status":     "ok",
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"rows":       s.cfg.Table.Len(),
		"revision":   s.cfg.Controller.Current().Revision,
		"loaded_at":  s.summary.Meta.LoadedAt,
		"server_now": time.Now().UTC(),
	})
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.cfg.Controller.Current())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.cfg.Controller.Status())
}

func (s *Server) handleDataset(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.summary)
}

type radiusRequest struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

type starSizesRequest struct {
	StarSizes *[]string `json:"star_sizes"`
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (s *Server) handleRadius(w http.ResponseWriter, r *http.Request) {
	var req radiusRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Min == nil || req.Max == nil {
		httputil.BadRequest(w, "both 'min' and 'max' are required")
		return
	}
	s.apply(r.Context(), w, controller.RadiusChanged(*req.Min, *req.Max))
}

func (s *Server) handleStarSizes(w http.ResponseWriter, r *http.Request) {
	var req starSizesRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.StarSizes == nil {
		httputil.BadRequest(w, "'star_sizes' is required")
		return
	}
	sel, err := exoplanet.ParseSelection(*req.StarSizes)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	s.apply(r.Context(), w, controller.StarSizesChanged(sel))
}

func (s *Server) apply(ctx context.Context, w http.ResponseWriter, ch controller.Change) {
	spec, err := s.cfg.Controller.Apply(ctx, ch)
	switch {
	case err == nil:
		httputil.WriteJSONOK(w, spec)
	case errors.Is(err, controller.ErrStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httputil.ServiceUnavailable(w, err.Error())
	default:
		httputil.BadRequest(w, err.Error())
	}
}

// handleEvents streams each published chart as an SSE "chart" event,
// starting with the current one.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, err := httputil.StartEventStream(w)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	id, specs := s.cfg.Controller.Subscribe()
	defer s.cfg.Controller.Unsubscribe(id)

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case spec, ok := <-specs:
			if !ok {
				return
			}
			if err := httputil.WriteEvent(w, flusher, "chart", spec); err != nil {
				monitoring.Debugf("event stream %s: %v", id, err)
				return
			}
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleChartHTML(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	opts := chart.HTMLOptions{AssetsHost: s.cfg.AssetsHost, Theme: s.theme()}
	if err := chart.RenderHTML(&buf, s.cfg.Controller.Current(), opts); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteHTML(w, buf.Bytes())
}

func (s *Server) handleChartImage(format string) http.HandlerFunc {
	contentType := "image/png"
	if format == chart.FormatSVG {
		contentType = "image/svg+xml"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := chart.RenderImage(&buf, s.cfg.Controller.Current(), format, 8*vg.Inch, 5*vg.Inch); err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		w.Header().Set("Content-Type", contentType)
		if _, err := w.Write(buf.Bytes()); err != nil {
			monitoring.Logf("failed to write %s chart: %v", format, err)
		}
	}
}

// filterCheck is the /debug/filter-check payload.
type filterCheck struct {
	Filter   exoplanet.FilterState `json:"filter"`
	InMemory []string              `json:"in_memory"`
	SQL      []string              `json:"sql,omitempty"`
	Agree    bool                  `json:"agree"`
}

func (s *Server) handleFilterCheck(w http.ResponseWriter, r *http.Request) {
	state := s.cfg.Controller.State()
	check := filterCheck{Filter: state, InMemory: make([]string, 0)}
	for _, row := range exoplanet.Filter(s.cfg.Table, state.Radius, state.StarSizes) {
		check.InMemory = append(check.InMemory, row.RowID)
	}
	if s.cfg.Mirror == nil {
		check.Agree = true
		httputil.WriteJSONOK(w, check)
		return
	}

	ids, err := s.cfg.Mirror.MatchingRowIDs(r.Context(), state)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("mirror query: %v", err))
		return
	}
	check.SQL = ids
	check.Agree = len(ids) == len(check.InMemory)
	for i := 0; check.Agree && i < len(ids); i++ {
		check.Agree = ids[i] == check.InMemory[i]
	}
	httputil.WriteJSONOK(w, check)
}
