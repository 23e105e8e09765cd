package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"rnadiff/domain/core"
	"rnadiff/domain/expression"
	"rnadiff/domain/genesets"
	"rnadiff/internal/errors"
	"rnadiff/ports"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type runResponse struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Factor       string    `json:"factor"`
	Numerator    string    `json:"numerator"`
	Denominator  string    `json:"denominator"`
	Test         string    `json:"test"`
	SettingsHash string    `json:"settings_hash"`
	Genes        int       `json:"genes"`
	Significant  int       `json:"significant"`
	Up           int       `json:"up"`
	Down         int       `json:"down"`
	OutputDir    string    `json:"output_dir,omitempty"`
}

// Undefined statistics are encoded as null
type deResponse struct {
	GeneID         string   `json:"gene_id"`
	BaseMean       *float64 `json:"base_mean"`
	Log2FoldChange *float64 `json:"log2_fold_change"`
	LfcSE          *float64 `json:"lfc_se"`
	Stat           *float64 `json:"stat"`
	PValue         *float64 `json:"pvalue"`
	PAdj           *float64 `json:"padj"`
	Converged      bool     `json:"converged"`
}

type enrichmentResponse struct {
	Name            string   `json:"set_name"`
	Overlap         int      `json:"overlap"`
	SetSize         int      `json:"set_size"`
	Score           *float64 `json:"score"`
	NormalizedScore *float64 `json:"nes"`
	PValue          *float64 `json:"pvalue"`
	PAdj            *float64 `json:"padj"`
	Genes           []string `json:"genes"`
}

func number(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func toRunResponse(r ports.RunRecord) runResponse {
	return runResponse{
		ID:           r.ID.String(),
		CreatedAt:    r.CreatedAt,
		Factor:       r.Design.Factor,
		Numerator:    r.Design.Numerator,
		Denominator:  r.Design.Denominator,
		Test:         r.Test,
		SettingsHash: r.SettingsHash.String(),
		Genes:        r.Genes,
		Significant:  r.Significant,
		Up:           r.Up,
		Down:         r.Down,
		OutputDir:    r.OutputDir,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]runResponse, len(runs))
	for i, run := range runs {
		out[i] = toRunResponse(run)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toRunResponse(*run))
}

// handleDEResults serves a run's DE table; ?padj=x keeps records with padj < x
func (s *Server) handleDEResults(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}

	maxPAdj := 0.0
	if raw := r.URL.Query().Get("padj"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 || v > 1 {
			s.writeError(w, errors.InvalidInput("padj must be a number in (0, 1]"))
			return
		}
		maxPAdj = v
	}

	results, err := s.store.GetDEResults(r.Context(), id, maxPAdj)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]deResponse, len(results))
	for i, res := range results {
		out[i] = toDEResponse(res)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func toDEResponse(r expression.DEResult) deResponse {
	return deResponse{
		GeneID:         r.GeneID,
		BaseMean:       number(r.BaseMean),
		Log2FoldChange: number(r.Log2FoldChange),
		LfcSE:          number(r.LfcSE),
		Stat:           number(r.Stat),
		PValue:         number(r.PValue),
		PAdj:           number(r.PAdj),
		Converged:      r.Converged,
	}
}

// handleEnrichment serves a run's enrichment table; ?mode=ora|gsea, default ora
func (s *Server) handleEnrichment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}

	mode := genesets.Mode(r.URL.Query().Get("mode"))
	switch mode {
	case "":
		mode = genesets.ModeORA
	case genesets.ModeORA, genesets.ModeGSEA:
	default:
		s.writeError(w, errors.InvalidInput("mode must be ora or gsea"))
		return
	}

	results, err := s.store.GetEnrichment(r.Context(), id, mode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]enrichmentResponse, len(results))
	for i, res := range results {
		genes := res.Genes
		if genes == nil {
			genes = []string{}
		}
		out[i] = enrichmentResponse{
			Name:            res.Name,
			Overlap:         res.Overlap,
			SetSize:         res.SetSize,
			Score:           number(res.Score),
			NormalizedScore: number(res.NormalizedScore),
			PValue:          number(res.PValue),
			PAdj:            number(res.PAdj),
			Genes:           genes,
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) runID(w http.ResponseWriter, r *http.Request) (core.RunID, bool) {
	id, err := core.ParseRunID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, errors.WithCode(errors.CodeInvalidInput, err))
		return "", false
	}
	return id, true
}
