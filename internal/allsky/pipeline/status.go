package pipeline

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"
)

// Status is the single JSON document rewritten after every frame for the
// external UI. The core is authoritative for these values.
type Status struct {
	Name             string  `json:"name"`
	Class            string  `json:"class"`
	Device           string  `json:"device"`
	Night            bool    `json:"night"`
	TempC            float64 `json:"temp"`
	Gain             int     `json:"gain"`
	Exposure         float64 `json:"exposure"`
	StableExposure   bool    `json:"stable_exposure"`
	TargetADU        float64 `json:"target_adu"`
	CurrentADUTarget float64 `json:"current_adu_target"`
	CurrentADU       float64 `json:"current_adu"`
	ADUAverage       float64 `json:"adu_average"`
	SQM              float64 `json:"sqm"`
	Stars            int     `json:"stars"`
	Time             string  `json:"time"`
}

// writeStatus atomically replaces the status document at the image root.
func (p *Pipeline) writeStatus(st Status, at time.Time) error {
	st.Time = at.Format(time.RFC3339)
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	path := filepath.Join(p.cfg.GetImageRoot(), "status.json")
	return p.fs.ReplaceFile(path, data, 0o644)
}
