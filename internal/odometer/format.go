package odometer

import (
	"math"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// printer renders distances with thousands separators in verdict text.
var printer = message.NewPrinter(language.English)

func km(v int64) string {
	return printer.Sprintf("%d", v)
}

func kmf(v float64) string {
	return printer.Sprintf("%d", int64(math.Round(v)))
}

func date(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
