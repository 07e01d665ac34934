// Package alerts watches rolling plant averages and records a notification
// when a plant drifts out of its safe band. Duplicate notifications are
// suppressed per plant and alert type for a trailing window.
package alerts

import (
	"context"
	"fmt"
	"log"
	"time"

	"plant-sentinel/pkg/database"
	"plant-sentinel/pkg/metrics"
)

// Safe-band thresholds. The boundaries themselves are safe: 15.0 and 30.0
// degrees do not alert, and neither does exactly 20 percent moisture.
const (
	TempLow  = 15.0
	TempHigh = 30.0
	SoilLow  = 20.0
)

// Alert type labels as stored in the alert table.
const (
	TypeTemperature  = "temperature"
	TypeSoilMoisture = "soil_moisture"
)

// DefaultWindow is how long one alert silences repeats for the same plant
// and type.
const DefaultWindow = time.Hour

// TemperatureAlert reports whether an average temperature is outside the
// safe band.
func TemperatureAlert(avg float64) bool {
	return avg < TempLow || avg > TempHigh
}

// SoilMoistureAlert reports whether an average moisture reading is too dry.
func SoilMoistureAlert(avg float64) bool {
	return avg < SoilLow
}

// Decide computes which alerts a batch of averages should raise, consulting
// recent for the suppression check. It is pure over its inputs so the
// threshold and suppression rules test without a database.
func Decide(averages []database.PlantAverage, now time.Time, recent func(plantID int64, alertType string) (bool, error)) ([]database.AlertRecord, error) {
	var out []database.AlertRecord

	appendAlert := func(plantID int64, alertType string, value float64) error {
		suppressed, err := recent(plantID, alertType)
		if err != nil {
			return fmt.Errorf("probe recent %s alert for plant %d: %w", alertType, plantID, err)
		}
		if suppressed {
			return nil
		}
		out = append(out, database.AlertRecord{
			PlantID:   plantID,
			AlertType: alertType,
			Value:     value,
			SentAt:    now.Unix(),
		})
		return nil
	}

	for _, avg := range averages {
		if TemperatureAlert(avg.AvgTemperature) {
			if err := appendAlert(avg.PlantID, TypeTemperature, avg.AvgTemperature); err != nil {
				return nil, err
			}
		}
		if SoilMoistureAlert(avg.AvgSoilMoisture) {
			if err := appendAlert(avg.PlantID, TypeSoilMoisture, avg.AvgSoilMoisture); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// Store is the slice of the database the evaluator needs.
type Store interface {
	AverageLastThree(ctx context.Context) ([]database.PlantAverage, error)
	RecentAlertExists(ctx context.Context, plantID int64, alertType string, since int64) (bool, error)
	InsertAlert(ctx context.Context, rec database.AlertRecord) error
}

// Notifier delivers one rendered alert message. The default implementation
// just logs; a mail or chat hook drops in behind the same interface.
type Notifier interface {
	Notify(ctx context.Context, rec database.AlertRecord, body string) error
}

// LogNotifier writes alert bodies to the log stream.
type LogNotifier struct {
	Logf func(string, ...any)
}

func (n LogNotifier) Notify(_ context.Context, rec database.AlertRecord, body string) error {
	n.Logf("ALERT plant=%d type=%s value=%.2f\n%s", rec.PlantID, rec.AlertType, rec.Value, body)
	return nil
}

// Evaluator runs one alert pass per invocation. The scheduler guarantees a
// single pass runs at a time, which is what makes the probe-then-insert
// suppression check safe without a table lock.
type Evaluator struct {
	DB       Store
	Notifier Notifier
	Window   time.Duration
	Logf     func(string, ...any)

	// Now is swappable in tests; nil means time.Now.
	Now func() time.Time
}

// Run evaluates the current averages and records any alerts due. It returns
// the alerts it raised this pass.
func (e *Evaluator) Run(ctx context.Context) ([]database.AlertRecord, error) {
	logf := e.Logf
	if logf == nil {
		logf = log.Printf
	}
	now := time.Now()
	if e.Now != nil {
		now = e.Now()
	}
	window := e.Window
	if window <= 0 {
		window = DefaultWindow
	}
	start := time.Now()
	defer func() {
		metrics.CycleDuration.WithLabelValues("alerts").Observe(time.Since(start).Seconds())
	}()

	averages, err := e.DB.AverageLastThree(ctx)
	if err != nil {
		return nil, fmt.Errorf("compute rolling averages: %w", err)
	}
	if len(averages) == 0 {
		logf("alert pass: no readings yet, nothing to evaluate")
		return nil, nil
	}

	names := make(map[int64]string, len(averages))
	for _, avg := range averages {
		names[avg.PlantID] = avg.PlantName
	}

	since := now.Add(-window).Unix()
	due, err := Decide(averages, now, func(plantID int64, alertType string) (bool, error) {
		return e.DB.RecentAlertExists(ctx, plantID, alertType, since)
	})
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		logf("alert pass: %d plants evaluated, all within safe bands or suppressed", len(averages))
		return nil, nil
	}

	notifier := e.Notifier
	if notifier == nil {
		notifier = LogNotifier{Logf: logf}
	}

	var raised []database.AlertRecord
	for _, rec := range due {
		if err := e.DB.InsertAlert(ctx, rec); err != nil {
			logf("record %s alert for plant %d: %v", rec.AlertType, rec.PlantID, err)
			continue
		}
		body, err := RenderBody(rec, names[rec.PlantID])
		if err != nil {
			logf("render alert body for plant %d: %v", rec.PlantID, err)
			body = fmt.Sprintf("plant %d %s alert: %.2f", rec.PlantID, rec.AlertType, rec.Value)
		}
		if err := notifier.Notify(ctx, rec, body); err != nil {
			// The alert row is already recorded; the suppression window
			// holds even when delivery hiccups.
			logf("notify %s alert for plant %d: %v", rec.AlertType, rec.PlantID, err)
		}
		metrics.AlertsSent.WithLabelValues(rec.AlertType).Inc()
		raised = append(raised, rec)
	}

	logf("alert pass: %d plants evaluated, %d alerts raised", len(averages), len(raised))
	return raised, nil
}
