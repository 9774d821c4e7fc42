package chart

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// maxLegendEntries hides the legend when there are more colour keys than
// can be read; the tooltip still names each point.
const maxLegendEntries = 30

// HTMLOptions controls the go-echarts page.
type HTMLOptions struct {
	// AssetsHost is where the page loads echarts.min.js from.
	AssetsHost string
	// Theme is a go-echarts theme name such as "white" or "dark".
	Theme  string
	Width  string
	Height string
}

// NewScatter builds a go-echarts scatter with one series per colour key.
func NewScatter(spec Spec, o HTMLOptions) *charts.Scatter {
	if o.Width == "" {
		o.Width = "100%"
	}
	if o.Height == "" {
		o.Height = "600px"
	}
	groups := spec.GroupByColor()

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle:  spec.Title,
			Theme:      o.Theme,
			Width:      o.Width,
			Height:     o.Height,
			AssetsHost: o.AssetsHost,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    spec.Title,
			Subtitle: fmt.Sprintf("points=%d revision=%d", len(spec.Points), spec.Revision),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "item"}),
		charts.WithLegendOpts(opts.Legend{
			Show: opts.Bool(len(groups) > 0 && len(groups) <= maxLegendEntries),
			Type: "scroll",
			Top:  "bottom",
		}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: spec.X.Label, NameLocation: "middle", NameGap: 25, Scale: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: spec.Y.Label, NameLocation: "middle", NameGap: 40, Scale: opts.Bool(true)}),
	)

	for _, g := range groups {
		data := make([]opts.ScatterData, 0, len(g.Points))
		for _, p := range g.Points {
			data = append(data, opts.ScatterData{Name: g.Key, Value: []interface{}{p.X, p.Y}})
		}
		scatter.AddSeries(g.Key, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	}
	return scatter
}

// RenderHTML writes a standalone HTML page with the chart.
func RenderHTML(w io.Writer, spec Spec, o HTMLOptions) error {
	if err := NewScatter(spec, o).Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}
