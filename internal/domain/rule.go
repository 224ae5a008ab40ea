package domain

// FlagRule defines an import-time check on a staged refuel record.
type FlagRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// Expression is a CEL predicate; true raises the flag.
	Expression string `json:"expression"`

	// Severity is "error" or "warning".
	Severity string `json:"severity"`

	// Message is a text/template rendered with the rule inputs.
	Message string `json:"message"`

	// Suggestion is shown next to the flag.
	Suggestion string `json:"suggestion"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// Flag severities.
const (
	FlagError   = "error"
	FlagWarning = "warning"
)

// Flag is one raised import check for a staged record.
type Flag struct {
	RuleID     string `json:"ruleId"`
	RecordID   string `json:"recordId"`
	Severity   string `json:"severity"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

// StagedRefuel is a row from a bulk import awaiting confirmation.
type StagedRefuel struct {
	ID        string  `json:"id" validate:"required"`
	VehicleID string  `json:"vehicleId" validate:"required"`
	Date      string  `json:"date" validate:"required"`
	Odometer  int64   `json:"odometer" validate:"gte=0"`
	Liters    float64 `json:"liters" validate:"gte=0"`
}

// FlagInput is the per-record context fed to flag rules.
type FlagInput struct {
	Odometer      int64
	Liters        float64
	LastOdometer  int64
	HasHistory    bool
	AvgEfficiency float64
}
