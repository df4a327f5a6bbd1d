package service

import "github.com/cardio-risk-server/internal/domain"

// Risk level cut points.
const (
	mediumRiskThreshold = 0.30
	highRiskThreshold   = 0.60
)

// RiskLevelFor maps a probability onto Low (<0.30), Medium (<0.60) or High.
func RiskLevelFor(p float64) domain.RiskLevel {
	switch {
	case p < mediumRiskThreshold:
		return domain.RiskLow
	case p < highRiskThreshold:
		return domain.RiskMedium
	default:
		return domain.RiskHigh
	}
}

// ConfidenceFor reports how far p sits from 0.5. High is tested before Medium.
func ConfidenceFor(p float64) domain.ConfidenceLevel {
	if p < 0.2 || p > 0.8 {
		return domain.HIGH
	}
	if p < 0.4 || p > 0.6 {
		return domain.MEDIUM
	}
	return domain.LOW
}
