package transform

import "merchant-cohort-lab/internal/domain"

// AnimationFloor replaces non-positive values so log-scale charts keep the point.
const AnimationFloor = 0.1

// ForAnimation returns a presentation copy of rows where any value <= 0 (or NaN)
// becomes AnimationFloor. Never cache or rank this copy.
func ForAnimation(rows []domain.LongRow) []domain.LongRow {
	out := make([]domain.LongRow, len(rows))
	for i, r := range rows {
		r.TotalAmount = floorValue(r.TotalAmount)
		r.TotalMerchants = floorValue(r.TotalMerchants)
		r.AvgTicket = floorValue(r.AvgTicket)
		if r.MonthsSinceRegister != nil {
			r.MonthsSinceRegister = domain.IntPtr(*r.MonthsSinceRegister)
		}
		out[i] = r
	}
	return out
}

func floorValue(v float64) float64 {
	if v > 0 {
		return v
	}
	return AnimationFloor
}
