package service

import (
	"time"

	"github.com/cardio-risk-server/internal/domain"
)

const (
	analyticsWindowDays = 30
	recentWindowDays    = 7
	dateLayout          = "2006-01-02"
)

// DailyCount is the number of registrations on one UTC day.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Analytics summarizes a hospital's patient registry.
type Analytics struct {
	TotalPatients   int          `json:"total_patients"`
	DeletedPatients int          `json:"deleted_patients"`
	NewToday        int          `json:"new_today"`
	NewLast7Days    int          `json:"new_last_7_days"`
	DailyCounts     []DailyCount `json:"daily_counts"`
}

// AnalyticsFor counts registrations relative to now, in UTC days. Deleted
// patients count toward the totals only.
func AnalyticsFor(patients []*domain.Patient, now time.Time) *Analytics {
	now = now.UTC()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekStart := todayStart.AddDate(0, 0, -(recentWindowDays - 1))

	a := &Analytics{}
	perDay := make(map[string]int)
	for _, p := range patients {
		a.TotalPatients++
		if p.IsDeleted {
			a.DeletedPatients++
			continue
		}
		if p.CreatedAt.IsZero() {
			continue
		}
		created := p.CreatedAt.UTC()
		if !created.Before(todayStart) {
			a.NewToday++
		}
		if !created.Before(weekStart) {
			a.NewLast7Days++
		}
		perDay[created.Format(dateLayout)]++
	}

	start := todayStart.AddDate(0, 0, -(analyticsWindowDays - 1))
	a.DailyCounts = make([]DailyCount, 0, analyticsWindowDays)
	for i := 0; i < analyticsWindowDays; i++ {
		day := start.AddDate(0, 0, i).Format(dateLayout)
		a.DailyCounts = append(a.DailyCounts, DailyCount{Date: day, Count: perDay[day]})
	}
	return a
}
