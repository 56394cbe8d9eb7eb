package curvefit

import (
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// WritePlot draws the duration histogram together with the fitted curve and writes it to w
// as PNG. The x axis is zoomed in on [0, maxX] seconds.
func WritePlot(w io.Writer, durations []float64, res Result, title string, maxX float64) error {
	x, y := Histogram(durations)
	if len(x) == 0 {
		return fmt.Errorf("no durations to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Duration [in s]"
	p.Y.Label.Text = "Number of tracks"

	pts := make(plotter.XYs, len(x))
	ymax := 0.0
	for i := range x {
		pts[i].X = x[i]
		pts[i].Y = y[i]
		ymax = max(ymax, y[i])
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("build histogram points: %w", err)
	}
	p.Add(scatter)
	p.Legend.Add("Data", scatter)

	lines := []string{fmt.Sprintf("Number of tracks is %d", len(durations))}
	if res.Status == OK || res.Status == LowConfidence {
		fitted := plotter.NewFunction(res.Params.Eval)
		fitted.Samples = 200
		p.Add(fitted)
		p.Legend.Add("Fitted", fitted)
		lines = append([]string{
			fmt.Sprintf("Tau = %.0f ms", 1000/res.Params.T),
			fmt.Sprintf("R2 = %.4f", res.RSquared),
		}, lines...)
	} else {
		lines = append([]string{fmt.Sprintf("No fit: %s", res.Status)}, lines...)
	}

	xText := x[len(x)-1] / 2
	if maxX > 0 {
		xText = maxX/2 - maxX*0.1
	}
	labels := plotter.XYLabels{}
	for i, l := range lines {
		labels.XYs = append(labels.XYs, plotter.XY{X: xText, Y: ymax / 2 * (1 - 0.2*float64(i))})
		labels.Labels = append(labels.Labels, l)
	}
	text, err := plotter.NewLabels(labels)
	if err != nil {
		return fmt.Errorf("build plot annotation: %w", err)
	}
	p.Add(text)

	p.X.Min = 0
	if maxX > 0 {
		p.X.Max = maxX
	}

	wt, err := p.WriterTo(6*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render duration plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write duration plot: %w", err)
	}
	return nil
}
