package server

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"merchant-cohort-lab/internal/domain"
	"merchant-cohort-lab/internal/reporting"
)

// Number is a float64 that encodes NaN and infinities as JSON null.
type Number float64

func (n Number) MarshalJSON() ([]byte, error) {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

func (n *Number) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*n = Number(math.NaN())
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

type wideRowJSON struct {
	Date                string            `json:"date"`
	Cohort              string            `json:"cohort"`
	Segment             string            `json:"segment"`
	MonthsSinceRegister int               `json:"months_since_register"`
	Values              map[string]Number `json:"values"`
}

type wideJSON struct {
	Columns []string      `json:"columns"`
	Rows    []wideRowJSON `json:"rows"`
}

func toWideJSON(t *domain.WideTable) wideJSON {
	out := wideJSON{Columns: t.AllColumns(), Rows: make([]wideRowJSON, 0, len(t.Rows))}
	for _, r := range t.Rows {
		values := make(map[string]Number, len(t.Columns))
		for _, c := range t.Columns {
			values[c] = Number(r.Value(c))
		}
		out.Rows = append(out.Rows, wideRowJSON{
			Date:                r.Date.Format("2006-01-02"),
			Cohort:              r.Cohort.Format("2006-01-02"),
			Segment:             r.Segment,
			MonthsSinceRegister: r.MonthsSinceRegister,
			Values:              values,
		})
	}
	return out
}

type longRowJSON struct {
	Date                string `json:"date"`
	Cohort              string `json:"cohort"`
	Segment             string `json:"segment"`
	MonthsSinceRegister *int   `json:"months_since_register"`
	Product             string `json:"product"`
	TotalAmount         Number `json:"total_amount"`
	TotalMerchants      Number `json:"total_merchants"`
	AvgTicket           Number `json:"avg_ticket"`
}

func toLongJSON(rows []domain.LongRow) []longRowJSON {
	out := make([]longRowJSON, 0, len(rows))
	for _, r := range rows {
		out = append(out, longRowJSON{
			Date:                r.Date,
			Cohort:              r.Cohort,
			Segment:             r.Segment,
			MonthsSinceRegister: r.MonthsSinceRegister,
			Product:             r.Product,
			TotalAmount:         Number(r.TotalAmount),
			TotalMerchants:      Number(r.TotalMerchants),
			AvgTicket:           Number(r.AvgTicket),
		})
	}
	return out
}

type rankRowJSON struct {
	Date             string `json:"date"`
	Segment          string `json:"segment"`
	Product          string `json:"product"`
	AvgTicket        Number `json:"avg_ticket"`
	PercentAvgTicket Number `json:"percent_avg_ticket"`
	Rank             int    `json:"rank"`
}

func toRankJSON(rows []domain.RankRow) []rankRowJSON {
	out := make([]rankRowJSON, 0, len(rows))
	for _, r := range rows {
		out = append(out, rankRowJSON{
			Date:             r.Date,
			Segment:          r.Segment,
			Product:          r.Product,
			AvgTicket:        Number(r.AvgTicket),
			PercentAvgTicket: Number(r.PercentAvgTicket),
			Rank:             r.Rank,
		})
	}
	return out
}

type heatmapJSON struct {
	Product string     `json:"product"`
	Segment string     `json:"segment"`
	Field   string     `json:"field"`
	Cohorts []string   `json:"cohorts"`
	Months  []int      `json:"months"`
	Values  [][]Number `json:"values"`
}

func toHeatmapJSON(m reporting.HeatmapMatrix) heatmapJSON {
	out := heatmapJSON{
		Product: m.Product,
		Segment: m.Segment,
		Field:   m.Field,
		Cohorts: m.Cohorts,
		Months:  m.Months,
		Values:  make([][]Number, len(m.Values)),
	}
	for i, line := range m.Values {
		out.Values[i] = make([]Number, len(line))
		for j, v := range line {
			out.Values[i][j] = Number(v)
		}
	}
	return out
}

type errorJSON struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorJSON{Error: msg})
}
