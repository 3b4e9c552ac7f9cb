// Command zonestats is an offline reporting tool: it reads the operational
// samples zoned recorded to its telemetry store and renders them as a
// static PNG chart (gonum/plot) and an interactive HTML chart (go-echarts),
// alongside a short statistical summary on stdout.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/nitrogenlogic/zoned/internal/telemetry"
)

var (
	dbPath  = flag.String("telemetry-db", "telemetry.db", "path to the sqlite telemetry sample store")
	limit   = flag.Int("limit", 1000, "maximum number of most recent samples to report on")
	pngOut  = flag.String("png", "zonestats.png", "path to write the fps/drop-rate PNG chart to")
	htmlOut = flag.String("html", "zonestats.html", "path to write the interactive HTML chart to")
)

func main() {
	flag.Parse()

	store, err := telemetry.Open(*dbPath)
	if err != nil {
		log.Fatalf("opening telemetry store %s: %v", *dbPath, err)
	}
	defer store.Close()

	samples, err := store.Recent(*limit)
	if err != nil {
		log.Fatalf("reading telemetry samples: %v", err)
	}
	if len(samples) == 0 {
		log.Fatalf("no telemetry samples recorded in %s yet", *dbPath)
	}

	printSummary(samples)

	if err := writePNG(samples, *pngOut); err != nil {
		log.Fatalf("writing PNG chart: %v", err)
	}
	log.Printf("wrote %s", *pngOut)

	if err := writeHTML(samples, *htmlOut); err != nil {
		log.Fatalf("writing HTML chart: %v", err)
	}
	log.Printf("wrote %s", *htmlOut)
}

func printSummary(samples []telemetry.Sample) {
	fps := make([]float64, len(samples))
	depthDrops := make([]float64, len(samples))
	for i, s := range samples {
		fps[i] = s.FPS
		depthDrops[i] = float64(s.DepthDrops)
	}

	sortedFPS := append([]float64(nil), fps...)
	sortAscending(sortedFPS)

	mean, stddev := stat.MeanStdDev(fps, nil)
	p50 := stat.Quantile(0.5, stat.Empirical, sortedFPS, nil)
	p05 := stat.Quantile(0.05, stat.Empirical, sortedFPS, nil)

	fmt.Printf("%d samples\n", len(samples))
	fmt.Printf("fps: mean=%.2f stddev=%.2f p50=%.2f p05=%.2f\n", mean, stddev, p50, p05)
	fmt.Printf("depth drops: total=%.0f max=%.0f\n", sum(depthDrops), max(depthDrops))
}

func sortAscending(xs []float64) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}

func sum(xs []float64) float64 {
	var total float64
	for _, x := range xs {
		total += x
	}
	return total
}

func max(xs []float64) float64 {
	var m float64
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	return m
}

// writePNG renders fps and depth-drop-rate over the sample window as a
// two-line static chart.
func writePNG(samples []telemetry.Sample, path string) error {
	p := plot.New()
	p.Title.Text = "zoned telemetry"
	p.X.Label.Text = "sample"
	p.Y.Label.Text = "fps / drops"

	fpsPts := make(plotter.XYs, len(samples))
	dropPts := make(plotter.XYs, len(samples))
	for i, s := range samples {
		fpsPts[i] = plotter.XY{X: float64(i), Y: s.FPS}
		dropPts[i] = plotter.XY{X: float64(i), Y: float64(s.DepthDrops)}
	}

	fpsLine, err := plotter.NewLine(fpsPts)
	if err != nil {
		return fmt.Errorf("building fps line: %w", err)
	}
	fpsLine.Width = vg.Points(1.5)
	p.Add(fpsLine)
	p.Legend.Add("fps", fpsLine)

	dropLine, err := plotter.NewLine(dropPts)
	if err != nil {
		return fmt.Errorf("building depth-drop line: %w", err)
	}
	dropLine.Width = vg.Points(1.5)
	dropLine.Color = color.RGBA{R: 220, G: 60, B: 60, A: 255}
	p.Add(dropLine)
	p.Legend.Add("depth drops", dropLine)

	if err := p.Save(10*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	return nil
}

// writeHTML renders the same series as an interactive go-echarts line
// chart, for browsing without a plotting toolchain.
func writeHTML(samples []telemetry.Sample, path string) error {
	x := make([]string, len(samples))
	fpsSeries := make([]opts.LineData, len(samples))
	dropSeries := make([]opts.LineData, len(samples))
	for i, s := range samples {
		x[i] = s.TakenAt.Format("15:04:05")
		fpsSeries[i] = opts.LineData{Value: s.FPS}
		dropSeries[i] = opts.LineData{Value: s.DepthDrops}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1000px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "zoned telemetry"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(x).
		AddSeries("fps", fpsSeries).
		AddSeries("depth drops", dropSeries)

	page := components.NewPage()
	page.AddCharts(line)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return fmt.Errorf("rendering chart: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
