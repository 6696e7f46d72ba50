package billing

import (
	"voice-gateway/internal/notify"

	"github.com/shopspring/decimal"
)

// Thresholds are low-balance levels in credit-minutes. Critical must be below Warning.
type Thresholds struct {
	Warning  decimal.Decimal
	Critical decimal.Decimal
}

func DefaultThresholds() Thresholds {
	return Thresholds{Warning: decimal.NewFromInt(50), Critical: decimal.NewFromInt(10)}
}

// Crossing is one threshold passed by a balance change.
type Crossing struct {
	Level     notify.Level
	Threshold decimal.Decimal
}

// Crossed returns the thresholds t with prev >= t > next, warning first.
// A balance that only touches a threshold, or rises, crosses nothing.
func (t Thresholds) Crossed(prev, next decimal.Decimal) []Crossing {
	var out []Crossing
	if prev.GreaterThanOrEqual(t.Warning) && next.LessThan(t.Warning) {
		out = append(out, Crossing{Level: notify.LevelWarning, Threshold: t.Warning})
	}
	if prev.GreaterThanOrEqual(t.Critical) && next.LessThan(t.Critical) {
		out = append(out, Crossing{Level: notify.LevelCritical, Threshold: t.Critical})
	}
	return out
}
