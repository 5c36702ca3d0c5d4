package render

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// SpectrumName returns the spectrum plot file name for one sample.
func SpectrumName(sampleIndex int) string {
	return fmt.Sprintf("spectrum%d.png", sampleIndex)
}

// SaveSpectrum plots singular values against their rank. The image format
// follows the extension of path.
func SaveSpectrum(path string, values []float64, title string) error {
	if len(values) == 0 {
		return fmt.Errorf("render: empty spectrum")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "direction"
	p.Y.Label.Text = "singular value"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(values))
	for i, v := range values {
		pts[i].X = float64(i)
		pts[i].Y = v
	}
	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return fmt.Errorf("render: spectrum: %w", err)
	}
	p.Add(line, points)

	if err := p.Save(5*vg.Inch, 3*vg.Inch, path); err != nil {
		return fmt.Errorf("render: save %s: %w", path, err)
	}
	return nil
}
