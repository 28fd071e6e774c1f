package report

import (
	"bufio"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/relabs-tech/pid_testboard/internal/telemetry"
)

const (
	plotWidth  = 8 * vg.Inch
	plotHeight = 5 * vg.Inch
	plotDPI    = 96
)

// plotSignals picks what goes on the chart: the tracked pair, or the
// measured speed and current for modes without one.
func plotSignals(sum Summary) []string {
	if sum.Desired != "" {
		return []string{sum.Desired, sum.Actual}
	}
	return []string{telemetry.SpeedDesired, telemetry.SpeedActual, telemetry.MotorCurrent}
}

func savePlot(rec *recording, sum Summary, filename string) error {
	p := plot.New()
	p.Title.Text = "Cycle " + sum.SessionID[:8] + " (" + sum.Mode + ")"
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = sum.Unit
	p.Add(plotter.NewGrid())
	p.Legend.Top = true

	for i, name := range plotSignals(sum) {
		s := rec.signals[name]
		if s == nil || len(s.t) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(s.t))
		for j := range s.t {
			pts[j].X = s.t[j]
			pts[j].Y = s.v[j]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return errors.Wrapf(err, "plot %s", name)
		}
		line.LineStyle.Width = vg.Points(1.5)
		line.LineStyle.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(name, line)
	}

	c := vgimg.NewWith(vgimg.UseWH(plotWidth, plotHeight), vgimg.UseDPI(plotDPI))
	p.Draw(draw.New(c))

	f, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "create png")
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(bw); err != nil {
		return errors.Wrap(err, "write png")
	}
	return errors.Wrap(bw.Flush(), "flush png")
}
