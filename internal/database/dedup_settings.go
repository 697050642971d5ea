package database

import "time"

// DedupJobSettings controls the background duplicate-detection jobs
type DedupJobSettings struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	AutoSuggestEnabled    bool      `gorm:"default:true" json:"auto_suggest_enabled"`
	RescanEnabled         bool      `gorm:"default:true" json:"rescan_enabled"`
	RescanIntervalMinutes int       `gorm:"default:15" json:"rescan_interval_minutes"`
	RescanLookbackHours   int       `gorm:"default:24" json:"rescan_lookback_hours"`
	MaxIncidentsToRescan  int       `gorm:"default:100" json:"max_incidents_to_rescan"`
	SweepEnabled          bool      `gorm:"default:true" json:"sweep_enabled"`
	SweepIntervalMinutes  int       `gorm:"default:30" json:"sweep_interval_minutes"`
	DetectionTimeoutSecs  int       `gorm:"default:60" json:"detection_timeout_secs"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func (DedupJobSettings) TableName() string {
	return "dedup_job_settings"
}

// NewDefaultDedupJobSettings returns settings with default values
func NewDefaultDedupJobSettings() *DedupJobSettings {
	return &DedupJobSettings{
		AutoSuggestEnabled:    true,
		RescanEnabled:         true,
		RescanIntervalMinutes: 15,
		RescanLookbackHours:   24,
		MaxIncidentsToRescan:  100,
		SweepEnabled:          true,
		SweepIntervalMinutes:  30,
		DetectionTimeoutSecs:  60,
	}
}
