package server

import (
	"errors"
	"net/http"
	"strconv"

	"merchant-cohort-lab/internal/domain"
	"merchant-cohort-lab/internal/logging"
	"merchant-cohort-lab/internal/reporting"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Status())
}

func (s *Server) handleWide(w http.ResponseWriter, r *http.Request) {
	wide, err := s.pipeline.Wide(r.Context())
	if err != nil {
		s.internalError(w, r, "load wide table", err)
		return
	}
	writeJSON(w, http.StatusOK, toWideJSON(wide))
}

// handleLong serves the long-form table; ?animated=true returns the log-scale copy.
func (s *Server) handleLong(w http.ResponseWriter, r *http.Request) {
	animated := false
	if v := r.URL.Query().Get("animated"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "animated must be a boolean")
			return
		}
		animated = b
	}

	var (
		rows []domain.LongRow
		err  error
	)
	if animated {
		rows, err = s.pipeline.Animated(r.Context())
	} else {
		rows, err = s.pipeline.LongForm(r.Context())
	}
	if err != nil {
		s.internalError(w, r, "load long form", err)
		return
	}
	writeJSON(w, http.StatusOK, toLongJSON(rows))
}

// handleRanking serves the ranking table for ?segment=&cohort=.
// Filter values are only ever compared, never placed in query text.
func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.Filter{Cohort: q.Get("cohort"), Segment: q.Get("segment")}

	rows, err := s.pipeline.Ranking(r.Context(), f)
	if err != nil {
		s.internalError(w, r, "rank", err)
		return
	}
	writeJSON(w, http.StatusOK, toRankJSON(rows))
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	product := q.Get("product")
	if product == "" {
		writeError(w, http.StatusBadRequest, "product is required")
		return
	}
	segment := q.Get("segment")
	if segment == "" {
		segment = domain.SegmentAll
	}

	rows, err := s.pipeline.LongForm(r.Context())
	if err != nil {
		s.internalError(w, r, "load long form", err)
		return
	}
	m, err := reporting.Heatmap(rows, product, segment, q.Get("field"))
	if errors.Is(err, reporting.ErrUnknownField) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, r, "heatmap", err)
		return
	}
	writeJSON(w, http.StatusOK, toHeatmapJSON(m))
}

type columnJSON struct {
	Name        string `json:"name"`
	Class       string `json:"class"`
	Kind        string `json:"kind,omitempty"`
	Active      bool   `json:"active"`
	Calculation bool   `json:"calculation"`
	Product     string `json:"product,omitempty"`
}

type metaJSON struct {
	Fingerprint string       `json:"fingerprint"`
	Products    []string     `json:"products"`
	Columns     []columnJSON `json:"columns"`
}

func (s *Server) handleMeta(w http.ResponseWriter, _ *http.Request) {
	cat := s.pipeline.Catalog()
	out := metaJSON{
		Fingerprint: cat.Fingerprint(),
		Products:    cat.Products(),
		Columns:     make([]columnJSON, 0, cat.Len()),
	}
	for _, c := range cat.Columns() {
		out.Columns = append(out.Columns, columnJSON{
			Name:        c.Name,
			Class:       c.Class,
			Kind:        c.Kind,
			Active:      c.Active,
			Calculation: c.Calculation,
			Product:     c.Product,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	q, err := s.pipeline.Quality(r.Context())
	if err != nil {
		s.internalError(w, r, "quality", err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Invalidate(r.Context()); err != nil {
		s.internalError(w, r, "invalidate", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	logging.FromContext(r.Context(), s.log).Error().Err(err).Str("op", op).Msg("request failed")
	writeError(w, http.StatusInternalServerError, op+" failed")
}
