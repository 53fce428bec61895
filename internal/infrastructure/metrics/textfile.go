// Package metrics writes per-cycle statistics as a Prometheus textfile for
// the node exporter's textfile collector.
package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	pluginports "github.com/kilometers-ai/plugsync/internal/core/ports/plugin"
)

const namespace = "plugsync"

// Textfile implements pluginports.CycleRecorder. Each Record replaces the
// file with the last cycle's values.
type Textfile struct {
	path string

	registry   *prometheus.Registry
	lastRun    prometheus.Gauge
	duration   prometheus.Gauge
	skipped    *prometheus.GaugeVec
	installs   *prometheus.GaugeVec
	exhausted  prometheus.Gauge
	updateRan  prometheus.Gauge
	updateErrs prometheus.Gauge
	plugins    prometheus.Gauge
	structural prometheus.Gauge
	pushed     prometheus.Gauge
	regFailed  prometheus.Gauge
	errors     prometheus.Gauge
}

// NewTextfile creates a recorder writing to path.
func NewTextfile(path string) *Textfile {
	t := &Textfile{
		path:     path,
		registry: prometheus.NewRegistry(),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_cycle_timestamp_seconds",
			Help: "Unix time the last sync cycle started",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_cycle_duration_seconds",
			Help: "Wall time of the last sync cycle",
		}),
		skipped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_cycle_skipped",
			Help: "1 when the last cycle stopped early, labelled by reason",
		}, []string{"reason"}),
		installs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_cycle_installs",
			Help: "Install attempts in the last cycle by result",
		}, []string{"result"}),
		exhausted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "retries_exhausted",
			Help: "Missing plugins no longer retried",
		}),
		updateRan: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_cycle_update_ran",
			Help: "1 when the last cycle ran the update pass",
		}),
		updateErrs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_cycle_update_failures",
			Help: "Failed registry and plugin updates in the last cycle",
		}),
		plugins: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "snapshot_plugins",
			Help: "Plugins recorded in the snapshot",
		}),
		structural: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_cycle_structural_change",
			Help: "1 when the last cycle changed plugin or registry membership",
		}),
		pushed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_cycle_pushed",
			Help: "1 when the last cycle pushed the snapshot",
		}),
		regFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_cycle_registration_failed",
			Help: "1 when self-registration failed in the last cycle",
		}),
		errors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_cycle_errors",
			Help: "Errors logged by the last cycle",
		}),
	}
	t.registry.MustRegister(t.lastRun, t.duration, t.skipped, t.installs, t.exhausted, t.updateRan,
		t.updateErrs, t.plugins, t.structural, t.pushed, t.regFailed, t.errors)
	return t
}

// Record writes stats to the textfile.
func (t *Textfile) Record(ctx context.Context, stats pluginports.CycleStats) error {
	t.lastRun.Set(float64(stats.StartedAt.Unix()))
	t.duration.Set(stats.Duration.Seconds())
	t.skipped.Reset()
	if stats.Skipped != "" {
		t.skipped.WithLabelValues(stats.Skipped).Set(1)
	}
	t.installs.WithLabelValues("attempted").Set(float64(stats.InstallsAttempted))
	t.installs.WithLabelValues("succeeded").Set(float64(stats.InstallsSucceeded))
	t.installs.WithLabelValues("failed").Set(float64(stats.InstallsFailed))
	t.exhausted.Set(float64(stats.RetriesExhausted))
	t.updateRan.Set(boolValue(stats.UpdateRan))
	t.updateErrs.Set(float64(stats.UpdateFailures))
	t.plugins.Set(float64(stats.PluginsInSnapshot))
	t.structural.Set(boolValue(stats.Structural))
	t.pushed.Set(boolValue(stats.Pushed))
	t.regFailed.Set(boolValue(stats.RegistrationFailed))
	t.errors.Set(float64(stats.Errors))

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(t.path, t.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Discard drops statistics when no textfile is configured.
type Discard struct{}

func (Discard) Record(context.Context, pluginports.CycleStats) error { return nil }

var (
	_ pluginports.CycleRecorder = (*Textfile)(nil)
	_ pluginports.CycleRecorder = Discard{}
)
