package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/joelkehle/watchvault-pricing/internal/appraisal"
	"github.com/joelkehle/watchvault-pricing/internal/fees"
	"github.com/joelkehle/watchvault-pricing/internal/preferences"
	"github.com/joelkehle/watchvault-pricing/internal/pricing"
	"github.com/joelkehle/watchvault-pricing/internal/report"
	"github.com/joelkehle/watchvault-pricing/internal/store"
)

const maxBodyBytes = 1 << 20

// Repository is the persistence the API needs.
type Repository interface {
	SaveProduct(ctx context.Context, p store.Product) (store.Product, error)
	GetProduct(ctx context.Context, id string) (store.Product, error)
	SaveRun(ctx context.Context, res appraisal.RunResult) error
	GetRun(ctx context.Context, runID string) (appraisal.RunResult, error)
	ListRuns(ctx context.Context, productID string) ([]store.RunSummary, error)
}

type Appraiser interface {
	Run(ctx context.Context, req appraisal.Request) (appraisal.RunResult, error)
}

type BatchAppraiser interface {
	RunAll(ctx context.Context, reqs []appraisal.Request) []appraisal.BatchItem
}

type Deps struct {
	Schedule    *fees.Schedule
	Calculator  *pricing.Calculator
	Outliers    pricing.OutlierPolicy
	Repo        Repository
	Appraiser   Appraiser
	Batch       BatchAppraiser
	Preferences *preferences.Session
	PDF         report.PDFRenderer
	Logger      *logrus.Entry
}

type Server struct {
	deps     Deps
	validate *validator.Validate
	log      *logrus.Entry
}

// NewServer wires the routes. Appraiser, Batch and PDF may be nil; their routes then
// answer 503.
func NewServer(deps Deps) http.Handler {
	if deps.Schedule == nil {
		deps.Schedule = fees.DefaultSchedule()
	}
	if deps.Calculator == nil {
		deps.Calculator = pricing.NewCalculator(deps.Schedule)
	}
	if deps.Outliers == (pricing.OutlierPolicy{}) {
		deps.Outliers = pricing.DefaultOutlierPolicy()
	}
	if deps.Logger == nil {
		deps.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	s := &Server{deps: deps, validate: v, log: deps.Logger.WithField("component", "httpapi")}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/fees", s.handleFees)
	mux.HandleFunc("POST /v1/pricing/minimum", s.handleMinimumPrice)
	mux.HandleFunc("POST /v1/pricing/platform", s.handlePlatformPrices)
	mux.HandleFunc("POST /v1/comps/filter", s.handleFilterComps)
	mux.HandleFunc("POST /v1/products", s.handleCreateProduct)
	mux.HandleFunc("GET /v1/products/{id}", s.handleGetProduct)
	mux.HandleFunc("POST /v1/products/{id}/appraisals", s.handleAppraise)
	mux.HandleFunc("GET /v1/products/{id}/appraisals", s.handleListAppraisals)
	mux.HandleFunc("POST /v1/appraisals/batch", s.handleBatch)
	mux.HandleFunc("GET /v1/appraisals/{run_id}", s.handleGetRun)
	mux.HandleFunc("GET /v1/appraisals/{run_id}/report", s.handleReport)
	mux.HandleFunc("GET /v1/preferences", s.handleGetPreferences)
	mux.HandleFunc("PUT /v1/preferences", s.handlePutPreferences)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	ae := classify(err)
	if ae.Status >= 500 {
		s.log.WithError(err).WithField("code", ae.Code).Error("request failed")
	}
	writeJSON(w, ae.Status, map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":    ae.Code,
			"message": ae.Message,
		},
	})
}

// decode reads a JSON body into dst and runs struct validation on it.
func (s *Server) decode(r *http.Request, dst any) error {
	blob, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return validationError(err)
	}
	if len(blob) == 0 {
		blob = []byte("{}")
	}
	if err := json.Unmarshal(blob, dst); err != nil {
		return validationError(err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleFees(w http.ResponseWriter, r *http.Request) {
	if raw := strings.TrimSpace(r.URL.Query().Get("marketplace")); raw != "" {
		m, err := fees.ParseMarketplace(raw)
		if err != nil {
			s.writeError(w, err)
			return
		}
		fm, err := s.deps.Schedule.FeeModelFor(m)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "fee_model": fm})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "fee_models": s.deps.Schedule.Models()})
}

func (s *Server) handleMinimumPrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UnitCost *float64 `json:"unit_cost" validate:"required"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.deps.Calculator.Calculate(*req.UnitCost)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                   true,
		"minimum_price":        res.MinimumPrice,
		"dominant_marketplace": res.Dominant,
		"breakdown":            res.Breakdown,
	})
}

func (s *Server) handlePlatformPrices(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BMV      float64         `json:"bmv" validate:"gt=0"`
		UnitCost *float64        `json:"unit_cost" validate:"required"`
		Config   json.RawMessage `json:"config"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	cfg := pricing.DefaultFormulaConfig()
	if len(req.Config) > 0 && string(req.Config) != "null" {
		parsed, err := appraisal.ParsePricingConfig(string(req.Config))
		if err != nil {
			s.writeError(w, err)
			return
		}
		cfg = parsed
	}
	prices, err := s.deps.Calculator.PlatformPrices(cfg, req.BMV, *req.UnitCost)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "platform_prices": prices})
}

func (s *Server) handleFilterComps(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prices []float64 `json:"prices" validate:"required,min=1"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := pricing.FilterComps(req.Prices, s.deps.Outliers)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "comps": res})
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID         string                      `json:"id"`
		Attributes appraisal.ProductAttributes `json:"attributes"`
		Signals    *appraisal.ChannelSignals   `json:"signals"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.validate.Var(req.Attributes.Photos, "omitempty,dive,url"); err != nil {
		s.writeError(w, newError(CodeValidation, "attributes.photos must be URLs"))
		return
	}
	p, err := s.deps.Repo.SaveProduct(r.Context(), store.Product{
		ID:         req.ID,
		Attributes: req.Attributes,
		Signals:    req.Signals,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "product": p})
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Repo.GetProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "product": p})
}

// handleAppraise runs the pipeline synchronously and stores the run whether it completed
// or stopped part way.
func (s *Server) handleAppraise(w http.ResponseWriter, r *http.Request) {
	if s.deps.Appraiser == nil {
		s.writeError(w, newError(CodeUnavailable, "appraisal pipeline not configured"))
		return
	}
	p, err := s.deps.Repo.GetProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, runErr := s.deps.Appraiser.Run(r.Context(), appraisal.Request{ProductID: p.ID, Attributes: p.Attributes, Signals: p.Signals})
	if res.RunID != "" {
		if err := s.deps.Repo.SaveRun(r.Context(), res); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if runErr != nil {
		ae := classify(runErr)
		writeJSON(w, ae.Status, map[string]any{
			"ok":    false,
			"error": map[string]any{"code": ae.Code, "message": ae.Message},
			"run":   res,
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "run": res})
}

func (s *Server) handleListAppraisals(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.deps.Repo.GetProduct(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	runs, err := s.deps.Repo.ListRuns(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	prefs := preferences.Default()
	if s.deps.Preferences != nil {
		prefs = s.deps.Preferences.Get()
	}
	out := make([]store.RunSummary, 0, len(runs))
	for _, run := range runs {
		if prefs.Allows(run.Auction) {
			out = append(out, run)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "auction_filter": prefs.AuctionFilter, "runs": out})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Batch == nil {
		s.writeError(w, newError(CodeUnavailable, "batch appraisal not configured"))
		return
	}
	var req struct {
		ProductIDs []string `json:"product_ids" validate:"required,min=1,max=50,dive,required"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	reqs := make([]appraisal.Request, 0, len(req.ProductIDs))
	for _, id := range req.ProductIDs {
		p, err := s.deps.Repo.GetProduct(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		reqs = append(reqs, appraisal.Request{ProductID: p.ID, Attributes: p.Attributes, Signals: p.Signals})
	}

	type batchEntry struct {
		ProductID string            `json:"product_id"`
		RunID     string            `json:"run_id,omitempty"`
		Mode      appraisal.RunMode `json:"mode,omitempty"`
		Error     string            `json:"error,omitempty"`
	}
	entries := make([]batchEntry, 0, len(reqs))
	for i, item := range s.deps.Batch.RunAll(r.Context(), reqs) {
		e := batchEntry{ProductID: reqs[i].ProductID, RunID: item.Result.RunID, Mode: item.Result.Metadata.Mode}
		if item.Result.RunID != "" {
			if err := s.deps.Repo.SaveRun(r.Context(), item.Result); err != nil {
				s.writeError(w, err)
				return
			}
		}
		if item.Err != nil {
			e.Error = item.Err.Error()
		}
		entries = append(entries, e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "results": entries})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Repo.GetRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "run": res})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Repo.GetRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	md := report.Markdown(res)
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	switch format {
	case "", "md", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = io.WriteString(w, md)
	case "html", "pdf":
		doc, err := report.HTML("Appraisal "+res.RunID, md)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if format == "html" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = io.WriteString(w, doc)
			return
		}
		if s.deps.PDF == nil {
			s.writeError(w, newError(CodeUnavailable, "pdf rendering not configured"))
			return
		}
		pdf, err := s.deps.PDF.Render(r.Context(), doc)
		if err != nil {
			s.writeError(w, newError(CodeUnavailable, "pdf render: "+err.Error()))
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="appraisal-`+res.RunID+`.pdf"`)
		_, _ = w.Write(pdf)
	default:
		s.writeError(w, newError(CodeValidation, "format must be md, html or pdf"))
	}
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, _ *http.Request) {
	prefs := preferences.Default()
	if s.deps.Preferences != nil {
		prefs = s.deps.Preferences.Get()
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "preferences": prefs})
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	if s.deps.Preferences == nil {
		s.writeError(w, newError(CodeUnavailable, "preferences not configured"))
		return
	}
	var prefs preferences.Preferences
	if err := s.decode(r, &prefs); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.deps.Preferences.Update(prefs); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "preferences": prefs})
}
