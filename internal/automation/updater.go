package automation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"smartgarden/internal/models"
)

// ParseTelemetry decodes a device telemetry payload. Numeric fields (or
// numeric strings) become readings; null and anything else is dropped so the
// sensor stays unknown.
func ParseTelemetry(payload []byte) (models.SensorSnapshot, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	snap := make(models.SensorSnapshot, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case float64:
			snap[k] = val
		case string:
			// ParseFloat accepts "NaN" and "Inf" spellings
			if f, err := strconv.ParseFloat(val, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
				snap[k] = f
			}
		}
	}
	return snap, nil
}

// MergeTelemetry overlays incoming readings on prev. Sensors missing from a
// partial report keep their previous value.
func MergeTelemetry(prev, incoming models.SensorSnapshot) models.SensorSnapshot {
	out := make(models.SensorSnapshot, len(prev)+len(incoming))
	for k, v := range prev {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}
