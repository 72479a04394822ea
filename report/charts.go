package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

// WriteHTML renders the report as a chart page.
func (r *Report) WriteHTML(path string) error {
	page := components.NewPage()
	page.SetLayout(components.PageCenterLayout)
	page.AddCharts(r.severityChart(), r.ecosystemChart())

	f, err := createArtifact(path)
	if err != nil {
		return fmt.Errorf("writing html report: %w", err)
	}
	defer f.Close()
	return page.Render(f)
}

func (r *Report) severityChart() *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemePurplePassion}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Findings by severity",
			Subtitle: fmt.Sprintf("scan %s at %s", r.ID, r.ScanTimestamp),
		}),
	)

	counts := r.SeverityCounts()
	severities := r.sortedSeverities()
	items := make([]opts.BarData, 0, len(severities))
	xAxis := make([]string, 0, len(severities))
	for _, s := range severities {
		xAxis = append(xAxis, strings.ToUpper(s))
		items = append(items, opts.BarData{Value: counts[s]})
	}
	bar.SetXAxis(xAxis).AddSeries("findings", items)
	return bar
}

func (r *Report) ecosystemChart() *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemePurplePassion}),
		charts.WithTitleOpts(opts.Title{Title: "Malicious packages by ecosystem"}),
	)

	counts := make(map[string]int)
	for _, f := range r.Findings {
		counts[f.Ecosystem]++
	}
	ecos := make([]string, 0, len(counts))
	for eco := range counts {
		ecos = append(ecos, eco)
	}
	sort.Strings(ecos)
	items := make([]opts.BarData, 0, len(ecos))
	for _, eco := range ecos {
		items = append(items, opts.BarData{Value: counts[eco]})
	}
	bar.SetXAxis(ecos).AddSeries("packages", items)
	return bar
}
