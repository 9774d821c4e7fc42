package chart

import (
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Image formats supported by RenderImage.
const (
	FormatPNG = "png"
	FormatSVG = "svg"
)

// NewPlot builds a gonum plot of the spec. Points sharing a colour key share
// a palette colour; the legend is omitted since keys are per-row ids.
func NewPlot(spec Spec) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = spec.Title
	p.X.Label.Text = spec.X.Label
	p.Y.Label.Text = spec.Y.Label
	p.Add(plotter.NewGrid())

	if spec.Empty() {
		return p, nil
	}

	xys := make(plotter.XYs, len(spec.Points))
	colorIdx := make([]int, len(spec.Points))
	keys := make(map[string]int)
	for i, pt := range spec.Points {
		xys[i] = plotter.XY{X: pt.X, Y: pt.Y}
		idx, ok := keys[pt.Color]
		if !ok {
			idx = len(keys)
			keys[pt.Color] = idx
		}
		colorIdx[i] = idx
	}

	sc, err := plotter.NewScatter(xys)
	if err != nil {
		return nil, fmt.Errorf("build scatter: %w", err)
	}
	sc.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		return draw.GlyphStyle{
			Color:  plotutil.Color(colorIdx[i]),
			Radius: vg.Points(2.5),
			Shape:  draw.CircleGlyph{},
		}
	}
	p.Add(sc)
	return p, nil
}

// RenderImage writes the chart as PNG or SVG with the given size.
func RenderImage(w io.Writer, spec Spec, format string, width, height vg.Length) error {
	if format != FormatPNG && format != FormatSVG {
		return fmt.Errorf("unsupported image format %q", format)
	}
	p, err := NewPlot(spec)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(width, height, format)
	if err != nil {
		return fmt.Errorf("render %s: %w", format, err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write %s: %w", format, err)
	}
	return nil
}
