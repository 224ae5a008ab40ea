package rules

import "github.com/opensource-fleet/fleetwatch/internal/domain"

// DefaultFlagRules returns the import checks applied to staged refuels.
func DefaultFlagRules() []*domain.FlagRule {
	return []*domain.FlagRule{
		{
			ID:          "odometer_jump",
			Name:        "Large odometer jump",
			Description: "Reading is more than 3000 km above the vehicle's last stored reading",
			Expression:  "has_history && jump > 3000",
			Severity:    domain.FlagWarning,
			Message:     "Large odometer jump: {{.jump}} km",
			Suggestion:  "Verify odometer reading or check for missing refuel records",
			Enabled:     true,
		},
		{
			ID:          "negative_km",
			Name:        "Negative progression",
			Description: "Reading is below the vehicle's last stored reading",
			Expression:  "has_history && odometer < last_odometer",
			Severity:    domain.FlagError,
			Message:     "Odometer reading is lower than previous record ({{.last_odometer}} km)",
			Suggestion:  "Correct odometer value or check date sequence",
			Enabled:     true,
		},
		{
			ID:          "fuel_anomaly",
			Name:        "Fuel efficiency anomaly",
			Description: "km per liter deviates from the vehicle average by more than half",
			Expression: `has_history && liters > 0.0 && avg_efficiency > 0.0 &&
				(km_per_liter - avg_efficiency > avg_efficiency * 0.5 ||
				 avg_efficiency - km_per_liter > avg_efficiency * 0.5)`,
			Severity:   domain.FlagWarning,
			Message:    "Unusual fuel efficiency: {{fixed .km_per_liter}} km/l vs avg {{fixed .avg_efficiency}} km/l",
			Suggestion: "Verify fuel amount and odometer reading",
			Enabled:    true,
		},
	}
}
