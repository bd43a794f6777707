package registration

import (
	"math"

	"github.com/pkg/errors"
)

// Quality is the assessed fit of a registration, from the RMSE of its correspondences.
type Quality string

const (
	// QualityExcellent is an RMSE below QualityThresholds.Excellent.
	QualityExcellent Quality = "excellent"
	// QualityGood is an RMSE below QualityThresholds.Good.
	QualityGood Quality = "good"
	// QualityFair is usable, but the correspondences or the initial pose deserve a second look.
	QualityFair Quality = "fair"
	// QualityPoor should not be trusted.
	QualityPoor Quality = "poor"
	// QualityUnknown means the RMSE could not be computed.
	QualityUnknown Quality = "unknown"
)

// QualityThresholds are RMSE upper bounds, in the units of the registered points.
type QualityThresholds struct {
	Excellent float64 `json:"excellent"`
	Good      float64 `json:"good"`
	Fair      float64 `json:"fair"`
}

// DefaultQualityThresholds suits points in meters.
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{Excellent: 0.05, Good: 0.15, Fair: 0.30}
}

// Validate ensures the thresholds are positive and increasing.
func (q QualityThresholds) Validate() error {
	if q.Excellent <= 0 || q.Good < q.Excellent || q.Fair < q.Good {
		return errors.Errorf("thresholds must be positive and increasing, got %+v", q)
	}
	return nil
}

// Assess classifies an RMSE.
func (q QualityThresholds) Assess(rmse float64) Quality {
	switch {
	case math.IsNaN(rmse) || math.IsInf(rmse, 0) || rmse < 0:
		return QualityUnknown
	case rmse < q.Excellent:
		return QualityExcellent
	case rmse < q.Good:
		return QualityGood
	case rmse < q.Fair:
		return QualityFair
	default:
		return QualityPoor
	}
}

// Usable reports whether a registration of this quality is good enough to build on.
func (q Quality) Usable() bool {
	return q == QualityExcellent || q == QualityGood || q == QualityFair
}
