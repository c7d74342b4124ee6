package tiling

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotPlan renders tile footprints, centres and the serpentine travel path as
// a PNG. The Y axis is inverted to match machine coordinates.
func PlotPlan(w io.Writer, tiles []Tile, footprint Size, bounds Rect) error {
	p := plot.New()
	cols, rows := Dimensions(tiles)
	p.Title.Text = fmt.Sprintf("Capture plan %dx%d", cols, rows)
	p.X.Label.Text = "X (mm)"
	p.Y.Label.Text = "Y (mm)"
	p.X.Min, p.X.Max = bounds.Min.X, bounds.Max.X
	p.Y.Min, p.Y.Max = -bounds.Max.Y, -bounds.Min.Y

	outline := color.RGBA{R: 120, G: 120, B: 120, A: 255}
	for _, t := range tiles {
		hw, hh := footprint.W/2, footprint.H/2
		box := plotter.XYs{
			{X: t.Center.X - hw, Y: -(t.Center.Y - hh)},
			{X: t.Center.X + hw, Y: -(t.Center.Y - hh)},
			{X: t.Center.X + hw, Y: -(t.Center.Y + hh)},
			{X: t.Center.X - hw, Y: -(t.Center.Y + hh)},
			{X: t.Center.X - hw, Y: -(t.Center.Y - hh)},
		}
		l, err := plotter.NewLine(box)
		if err != nil {
			return err
		}
		l.Color = outline
		l.Width = vg.Points(0.5)
		p.Add(l)
	}

	if len(tiles) > 0 {
		path := make(plotter.XYs, len(tiles))
		for i, t := range tiles {
			path[i] = plotter.XY{X: t.Center.X, Y: -t.Center.Y}
		}
		line, points, err := plotter.NewLinePoints(path)
		if err != nil {
			return err
		}
		line.Color = color.RGBA{R: 200, A: 255}
		line.Width = vg.Points(1)
		points.Color = line.Color
		p.Add(line, points)
		p.Legend.Add("travel", line, points)
	}

	wt, err := p.WriterTo(6*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
