package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/pagekit/mm/pgalloc"
	"github.com/joshuapare/pagekit/pkg/scenario"
)

func init() {
	rootCmd.AddCommand(newStatsCmd())
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats [config.yaml]",
		Short: "Show allocator counters and metrics",
		Long: `The stats command builds the configured allocator, runs its script (if any),
and prints page counts, algorithm counters and the exported Prometheus metrics.

Example:
  pagectl stats
  pagectl stats scenario.yaml --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), args)
		},
	}
	return cmd
}

// Metric is one exported sample.
type Metric struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

type statsOutput struct {
	Stats   pgalloc.Stats `json:"stats"`
	Metrics []Metric      `json:"metrics"`
}

func runStats(ctx context.Context, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	log, closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	reg := prometheus.NewRegistry()
	env, err := scenario.Setup(cfg, log, reg)
	if err != nil {
		return fmt.Errorf("failed to set up allocator: %w", err)
	}
	defer env.Close()

	if len(cfg.Script) > 0 {
		if _, err := scenario.Run(ctx, env.Manager, cfg.Script); err != nil {
			return err
		}
	}

	metrics, err := gatherMetrics(reg)
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	out := statsOutput{Stats: env.Manager.Stats(), Metrics: metrics}

	if jsonOut {
		return printJSON(out)
	}

	s := out.Stats
	p := message.NewPrinter(language.English)
	printInfo("\nAllocator Statistics: %s\n", s.Algorithm)
	printInfo("%s\n\n", strings.Repeat("=", 40))

	printInfo("Memory:\n")
	printInfo("  Total: %s (%s pages of %s)\n",
		humanize.IBytes(s.TotalPages*s.PageSize), p.Sprintf("%d", s.TotalPages), humanize.IBytes(s.PageSize))
	printInfo("  Free: %s (%s pages, %.1f%%)\n",
		humanize.IBytes(s.FreePages*s.PageSize), p.Sprintf("%d", s.FreePages),
		float64(s.FreePages)*100/float64(s.TotalPages))
	printInfo("  Reserved: %s pages\n", p.Sprintf("%d", s.ReservedPages))
	printInfo("  Max Order: %d (%s blocks)\n\n", s.MaxOrder, humanize.IBytes(s.PageSize<<uint(s.MaxOrder)))

	a := s.Allocator
	printInfo("Counters:\n")
	printInfo("  Alloc Calls: %s (%s failed)\n", p.Sprintf("%d", a.AllocCalls), p.Sprintf("%d", a.AllocFailures))
	printInfo("  Free Calls: %s\n", p.Sprintf("%d", a.FreeCalls))
	printInfo("  Splits: %s\n", p.Sprintf("%d", a.Splits))
	printInfo("  Merges: %s\n", p.Sprintf("%d", a.Merges))
	printInfo("  Reservations: %s (%s missed)\n\n", p.Sprintf("%d", a.Reservations), p.Sprintf("%d", a.ReservationMisses))

	printInfo("Metrics:\n")
	for _, m := range out.Metrics {
		printInfo("  %s %s\n", formatMetricName(m), strconv.FormatFloat(m.Value, 'f', -1, 64))
	}
	return nil
}

// gatherMetrics flattens the counter and gauge samples in reg.
func gatherMetrics(reg prometheus.Gatherer) ([]Metric, error) {
	families, err := reg.Gather()
	if err != nil {
		return nil, err
	}
	var out []Metric
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			sample := Metric{Name: mf.GetName()}
			switch {
			case m.GetCounter() != nil:
				sample.Value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				sample.Value = m.GetGauge().GetValue()
			default:
				continue
			}
			for _, lp := range m.GetLabel() {
				if sample.Labels == nil {
					sample.Labels = make(map[string]string)
				}
				sample.Labels[lp.GetName()] = lp.GetValue()
			}
			out = append(out, sample)
		}
	}
	return out, nil
}

func formatMetricName(m Metric) string {
	if len(m.Labels) == 0 {
		return m.Name
	}
	keys := make([]string, 0, len(m.Labels))
	for k := range m.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, m.Labels[k])
	}
	return m.Name + "{" + strings.Join(parts, ",") + "}"
}
