package types

import (
	"errors"
	"fmt"
	"time"
)

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 2

// Settings represents the configuration stored in the database.
// These are dynamic settings that can be changed without redeploying.
type Settings struct {
	// Alert Settings
	// Grid import (in W) above which the grid alert is raised
	GridAlertWatts float64 `json:"gridAlertWatts"`
	// Battery SOC (in %) under which the low battery alert is raised
	LowBatterySOC float64 `json:"lowBatterySOC"`

	// IANA time zone the peak hours of the tariff are expressed in
	Location string `json:"location"`
}

// Validate ensures the settings are usable.
func (s Settings) Validate() error {
	if s.GridAlertWatts < 0 {
		return errors.New("gridAlertWatts must not be negative")
	}
	if s.LowBatterySOC < 0 || s.LowBatterySOC > 100 {
		return errors.New("lowBatterySOC must be between 0 and 100")
	}
	if s.Location != "" {
		if _, err := time.LoadLocation(s.Location); err != nil {
			return fmt.Errorf("invalid location %q: %w", s.Location, err)
		}
	}
	return nil
}

// TimeLocation returns the location of the settings, or UTC when it is unset
// or invalid.
func (s Settings) TimeLocation() *time.Location {
	if s.Location == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Location)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made, and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	// Loop through versions to apply migrations sequentially
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: initial
			if s.GridAlertWatts == 0 {
				s.GridAlertWatts = 6000
				migrated = true
			}
			if s.LowBatterySOC == 0 {
				s.LowBatterySOC = 20
				migrated = true
			}
		case 2:
			// version 2: add location for peak hours
			if s.Location == "" {
				s.Location = "Europe/Paris"
				migrated = true
			}
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}
