package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/watchvault-pricing/internal/appraisal"
	"github.com/joelkehle/watchvault-pricing/internal/preferences"
	"github.com/joelkehle/watchvault-pricing/internal/store"
)

// fakeAppraiser returns a complete run, or a partial one for product ids starting "fail".
type fakeAppraiser struct {
	calls int
}

func (f *fakeAppraiser) Run(_ context.Context, req appraisal.Request) (appraisal.RunResult, error) {
	f.calls++
	bmv := 1000.0
	res := appraisal.RunResult{
		RunID:   fmt.Sprintf("run-%d", f.calls),
		Request: req,
		State:   appraisal.StateChannelDecided,
		Outputs: []appraisal.StageOutput{{Order: 1, Key: appraisal.KeyIdentification, Variable: "pass1_output", Text: "Seiko"}},
		BMV:     &bmv,
		Metadata: appraisal.PipelineMetadata{
			Mode:      appraisal.RunModeComplete,
			StartedAt: time.Date(2026, 3, 1, 12, 0, f.calls, 0, time.UTC),
		},
	}
	if strings.HasPrefix(req.ProductID, "fail") {
		res.State = appraisal.StateCompsFiltered
		res.Metadata.Mode = appraisal.RunModePartial
		res.Metadata.StageFailed = appraisal.KeyFormulas
		return res, &appraisal.StageError{Stage: appraisal.KeyFormulas, Err: fmt.Errorf("%w: whatnot_fee_rate is required", appraisal.ErrInvalidPricingConfig)}
	}
	if strings.HasPrefix(req.ProductID, "auction") {
		d := appraisal.ChannelDecision{PrimaryChannel: appraisal.ChannelWhatnotLossLeader, Justification: "cheap"}
		res.Channel = &d
	}
	return res, nil
}

func (f *fakeAppraiser) RunAll(ctx context.Context, reqs []appraisal.Request) []appraisal.BatchItem {
	out := make([]appraisal.BatchItem, len(reqs))
	for i, req := range reqs {
		res, err := f.Run(ctx, req)
		out[i] = appraisal.BatchItem{Result: res, Err: err}
	}
	return out
}

type fakePDF struct{}

func (fakePDF) Render(context.Context, string) ([]byte, error) { return []byte("%PDF-1.7 test"), nil }

type brokenPDF struct{}

func (brokenPDF) Render(context.Context, string) ([]byte, error) {
	return nil, errors.New("chromium not found")
}

type testEnv struct {
	handler   http.Handler
	appraiser *fakeAppraiser
	prefs     *preferences.Session
}

func newServerForTest(t *testing.T) testEnv {
	t.Helper()
	repo, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	prefs, err := preferences.Open(filepath.Join(t.TempDir(), "prefs.json"), nil)
	require.NoError(t, err)
	app := &fakeAppraiser{}
	h := NewServer(Deps{
		Repo:        repo,
		Appraiser:   app,
		Batch:       app,
		Preferences: prefs,
		PDF:         fakePDF{},
	})
	return testEnv{handler: h, appraiser: app, prefs: prefs}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		blob, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(blob)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rr)
	assert.Equal(t, false, body["ok"])
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "error payload missing: %s", rr.Body.String())
	return e["code"].(string)
}

func TestHealth(t *testing.T) {
	env := newServerForTest(t)
	rr := doJSON(t, env.handler, http.MethodGet, "/v1/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decodeBody(t, rr)["ok"])
}

func TestFees(t *testing.T) {
	env := newServerForTest(t)

	rr := doJSON(t, env.handler, http.MethodGet, "/v1/fees", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody(t, rr)["fee_models"], 6)

	rr = doJSON(t, env.handler, http.MethodGet, "/v1/fees?marketplace=Poshmark", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	fm := decodeBody(t, rr)["fee_model"].(map[string]any)
	assert.Equal(t, 0.2, fm["commission_rate"])

	rr = doJSON(t, env.handler, http.MethodGet, "/v1/fees?marketplace=square", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, CodeNotFound, errorCode(t, rr))

	rr = doJSON(t, env.handler, http.MethodGet, "/v1/fees?marketplace=craigslist", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMinimumPrice(t *testing.T) {
	env := newServerForTest(t)

	rr := doJSON(t, env.handler, http.MethodPost, "/v1/pricing/minimum", map[string]any{"unit_cost": 100})
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, float64(125), body["minimum_price"])
	assert.Equal(t, "poshmark", body["dominant_marketplace"])
	assert.Len(t, body["breakdown"], 6)

	rr = doJSON(t, env.handler, http.MethodPost, "/v1/pricing/minimum", map[string]any{"unit_cost": -1})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, CodeInvalidCost, errorCode(t, rr))

	rr = doJSON(t, env.handler, http.MethodPost, "/v1/pricing/minimum", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, CodeValidation, errorCode(t, rr))

	rr = doJSON(t, env.handler, http.MethodPost, "/v1/pricing/minimum", "{bad json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, env.handler, http.MethodGet, "/v1/pricing/minimum", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestPlatformPricesAndComps(t *testing.T) {
	env := newServerForTest(t)

	rr := doJSON(t, env.handler, http.MethodPost, "/v1/pricing/platform", map[string]any{"bmv": 1000, "unit_cost": 600})
	require.Equal(t, http.StatusOK, rr.Code)
	prices := decodeBody(t, rr)["platform_prices"].(map[string]any)
	assert.Equal(t, float64(750), prices["minimum_price"])
	bin := prices["ebay_buy_it_now"].(map[string]any)
	assert.Equal(t, float64(950), bin["price"])

	rr = doJSON(t, env.handler, http.MethodPost, "/v1/pricing/platform", map[string]any{
		"bmv": 1000, "unit_cost": 600, "config": map[string]any{"ebay_fee_rate": 0.15},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = doJSON(t, env.handler, http.MethodPost, "/v1/comps/filter", map[string]any{"prices": []float64{100, 110, 120, 500}})
	require.Equal(t, http.StatusOK, rr.Code)
	comps := decodeBody(t, rr)["comps"].(map[string]any)
	assert.Equal(t, float64(110), comps["bmv"])

	rr = doJSON(t, env.handler, http.MethodPost, "/v1/comps/filter", map[string]any{"prices": []float64{0, -5}})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestPlatformPricesConfigRequiresEveryKey(t *testing.T) {
	env := newServerForTest(t)
	fullConfig := func() map[string]any {
		return map[string]any{
			"ebay_fee_rate":        0.15,
			"whatnot_fee_rate":     0.129,
			"ebay_bin_multipliers": map[string]any{"bmv_multiplier": 0.95, "cost_multiplier": 1.25},
			"ebay_best_offer": map[string]any{
				"auto_accept_multiplier": 0.92, "counter_multiplier": 0.88, "auto_decline_cost_multiplier": 1.1,
			},
			"whatnot": map[string]any{
				"display_bmv_multiplier": 1.0, "display_cost_multiplier": 1.3, "auction_start_cost_multiplier": 1.1,
			},
		}
	}

	rr := doJSON(t, env.handler, http.MethodPost, "/v1/pricing/platform", map[string]any{
		"bmv": 1000, "unit_cost": 600, "config": fullConfig(),
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	for _, key := range []string{"whatnot_fee_rate", "ebay_fee_rate"} {
		t.Run(key, func(t *testing.T) {
			cfg := fullConfig()
			delete(cfg, key)
			rr := doJSON(t, env.handler, http.MethodPost, "/v1/pricing/platform", map[string]any{
				"bmv": 1000, "unit_cost": 600, "config": cfg,
			})
			require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
			assert.Equal(t, "unprocessable", errorCode(t, rr))
			assert.Contains(t, rr.Body.String(), key+" is required")
		})
	}
}

func TestProductLifecycleAndAppraisal(t *testing.T) {
	env := newServerForTest(t)

	rr := doJSON(t, env.handler, http.MethodPost, "/v1/products", map[string]any{
		"id":         "watch-1",
		"attributes": map[string]any{"brand": "Seiko", "cost": 100, "photos": []string{"https://img.example/1.jpg"}},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	product := decodeBody(t, rr)["product"].(map[string]any)
	assert.Equal(t, float64(125), product["minimum_price"])

	rr = doJSON(t, env.handler, http.MethodGet, "/v1/products/watch-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, env.handler, http.MethodPost, "/v1/products/watch-1/appraisals", nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	run := decodeBody(t, rr)["run"].(map[string]any)
	runID := run["run_id"].(string)

	rr = doJSON(t, env.handler, http.MethodGet, "/v1/appraisals/"+runID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decodeBody(t, rr)["run"].(map[string]any)
	assert.Equal(t, "channel_decided", got["state"])

	rr = doJSON(t, env.handler, http.MethodGet, "/v1/products/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = doJSON(t, env.handler, http.MethodPost, "/v1/products/missing/appraisals", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = doJSON(t, env.handler, http.MethodGet, "/v1/appraisals/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateProductValidation(t *testing.T) {
	env := newServerForTest(t)

	rr := doJSON(t, env.handler, http.MethodPost, "/v1/products", map[string]any{"attributes": map[string]any{"cost": -3}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, CodeInvalidCost, errorCode(t, rr))

	rr = doJSON(t, env.handler, http.MethodPost, "/v1/products", map[string]any{"attributes": map[string]any{"photos": []string{"not a url"}}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, CodeValidation, errorCode(t, rr))

	rr = doJSON(t, env.handler, http.MethodPost, "/v1/products", map[string]any{})
	require.Equal(t, http.StatusCreated, rr.Code)
	product := decodeBody(t, rr)["product"].(map[string]any)
	assert.NotEmpty(t, product["id"])
	assert.Nil(t, product["minimum_price"])
}

func TestPartialAppraisalIsPersisted(t *testing.T) {
	env := newServerForTest(t)
	rr := doJSON(t, env.handler, http.MethodPost, "/v1/products", map[string]any{"id": "fail-1", "attributes": map[string]any{"cost": 50}})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doJSON(t, env.handler, http.MethodPost, "/v1/products/fail-1/appraisals", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	body := decodeBody(t, rr)
	run := body["run"].(map[string]any)
	runID := run["run_id"].(string)
	assert.Equal(t, "unprocessable", body["error"].(map[string]any)["code"])

	rr = doJSON(t, env.handler, http.MethodGet, "/v1/appraisals/"+runID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	meta := decodeBody(t, rr)["run"].(map[string]any)["metadata"].(map[string]any)
	assert.Equal(t, "PARTIAL", meta["mode"])
	assert.Equal(t, appraisal.KeyFormulas, meta["stage_failed"])
}

func TestReportFormats(t *testing.T) {
	env := newServerForTest(t)
	require.Equal(t, http.StatusCreated, doJSON(t, env.handler, http.MethodPost, "/v1/products", map[string]any{"id": "watch-2"}).Code)
	rr := doJSON(t, env.handler, http.MethodPost, "/v1/products/watch-2/appraisals", nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	runID := decodeBody(t, rr)["run"].(map[string]any)["run_id"].(string)

	rr = doJSON(t, env.handler, http.MethodGet, "/v1/appraisals/"+runID+"/report", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/markdown")
	assert.Contains(t, rr.Body.String(), "# Appraisal Report")

	rr = doJSON(t, env.handler, http.MethodGet, "/v1/appraisals/"+runID+"/report?format=html", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "<h1>Appraisal Report</h1>")

	rr = doJSON(t, env.handler, http.MethodGet, "/v1/appraisals/"+runID+"/report?format=pdf", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/pdf", rr.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rr.Body.String(), "%PDF"))

	rr = doJSON(t, env.handler, http.MethodGet, "/v1/appraisals/"+runID+"/report?format=docx", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReportPDFFailure(t *testing.T) {
	repo, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	require.NoError(t, repo.SaveRun(context.Background(), appraisal.RunResult{RunID: "r1", Metadata: appraisal.PipelineMetadata{Mode: appraisal.RunModeComplete}}))

	h := NewServer(Deps{Repo: repo, PDF: brokenPDF{}})
	rr := doJSON(t, h, http.MethodGet, "/v1/appraisals/r1/report?format=pdf", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = doJSON(t, h, http.MethodPost, "/v1/appraisals/batch", map[string]any{"product_ids": []string{"x"}})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestPreferencesAndAuctionFilter(t *testing.T) {
	env := newServerForTest(t)
	for _, id := range []string{"auction-1", "plain-1"} {
		require.Equal(t, http.StatusCreated, doJSON(t, env.handler, http.MethodPost, "/v1/products", map[string]any{"id": id}).Code)
	}

	rr := doJSON(t, env.handler, http.MethodPost, "/v1/appraisals/batch", map[string]any{"product_ids": []string{"auction-1", "plain-1", "auction-1"}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Len(t, decodeBody(t, rr)["results"], 3)

	rr = doJSON(t, env.handler, http.MethodGet, "/v1/preferences", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	prefs := decodeBody(t, rr)["preferences"].(map[string]any)
	assert.Equal(t, "inventory", prefs["mode"])
	assert.Equal(t, "all", prefs["auction_filter"])

	rr = doJSON(t, env.handler, http.MethodGet, "/v1/products/auction-1/appraisals", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody(t, rr)["runs"], 2)

	rr = doJSON(t, env.handler, http.MethodPut, "/v1/preferences", map[string]any{"mode": "watch", "auction_filter": "non_auction"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, preferences.AuctionNonAuction, env.prefs.Get().AuctionFilter)

	rr = doJSON(t, env.handler, http.MethodGet, "/v1/products/auction-1/appraisals", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody(t, rr)["runs"], 0)
	rr = doJSON(t, env.handler, http.MethodGet, "/v1/products/plain-1/appraisals", nil)
	assert.Len(t, decodeBody(t, rr)["runs"], 1)

	rr = doJSON(t, env.handler, http.MethodPut, "/v1/preferences", map[string]any{"mode": "gallery", "auction_filter": "all"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, CodeValidation, errorCode(t, rr))

	rr = doJSON(t, env.handler, http.MethodPost, "/v1/appraisals/batch", map[string]any{"product_ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = doJSON(t, env.handler, http.MethodPost, "/v1/appraisals/batch", map[string]any{"product_ids": []string{"missing"}})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
