package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/watchvault-pricing/internal/appraisal"
	"github.com/joelkehle/watchvault-pricing/internal/pricing"
)

var ErrNotFound = errors.New("not found")

// Product is the caller-side record that owns the derived minimum price. The calculator
// never writes it; SaveProduct recomputes it from the unit cost on every save.
type Product struct {
	ID           string                      `json:"id"`
	Attributes   appraisal.ProductAttributes `json:"attributes"`
	Signals      *appraisal.ChannelSignals   `json:"signals,omitempty"`
	MinimumPrice *int64                      `json:"minimum_price"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

// RunSummary is the list view of a persisted pipeline run.
type RunSummary struct {
	RunID       string            `json:"run_id" db:"run_id"`
	ProductID   string            `json:"product_id" db:"product_id"`
	State       appraisal.State   `json:"state" db:"state"`
	Mode        appraisal.RunMode `json:"mode" db:"mode"`
	StageFailed string            `json:"stage_failed,omitempty" db:"stage_failed"`
	Auction     bool              `json:"auction" db:"auction"`
	StartedAt   string            `json:"started_at" db:"started_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS products (
	product_id    TEXT PRIMARY KEY,
	attributes    TEXT NOT NULL DEFAULT '{}',
	signals       TEXT,
	minimum_price INTEGER,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id         TEXT PRIMARY KEY,
	product_id     TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL,
	mode           TEXT NOT NULL,
	stage_failed   TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	result         TEXT NOT NULL,
	auction        INTEGER NOT NULL DEFAULT 0,
	started_at     TEXT NOT NULL,
	completed_at   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS pipeline_runs_product ON pipeline_runs (product_id, started_at);
`

type productRow struct {
	ID           string         `db:"product_id"`
	Attributes   string         `db:"attributes"`
	Signals      sql.NullString `db:"signals"`
	MinimumPrice sql.NullInt64  `db:"minimum_price"`
	CreatedAt    string         `db:"created_at"`
	UpdatedAt    string         `db:"updated_at"`
}

type runRow struct {
	RunID         string `db:"run_id"`
	ProductID     string `db:"product_id"`
	State         string `db:"state"`
	Mode          string `db:"mode"`
	StageFailed   string `db:"stage_failed"`
	FailureReason string `db:"failure_reason"`
	Result        string `db:"result"`
	Auction       bool   `db:"auction"`
	StartedAt     string `db:"started_at"`
	CompletedAt   string `db:"completed_at"`
}

// Fixed-width so text ordering in SQLite matches time ordering.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store persists products and pipeline runs in SQLite.
type Store struct {
	db     *sqlx.DB
	calc   *pricing.Calculator
	logger *logrus.Entry
	now    func() time.Time
}

type Option func(*Store)

func WithCalculator(c *pricing.Calculator) Option {
	return func(s *Store) { s.calc = c }
}

func WithLogger(l *logrus.Entry) Option {
	return func(s *Store) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func Open(dbPath string, opts ...Option) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &Store{
		db:     db,
		calc:   pricing.NewCalculator(nil),
		logger: logrus.NewEntry(logrus.StandardLogger()),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveProduct inserts or replaces p. An empty ID gets a fresh uuid. The minimum price is
// derived from Attributes.Cost and cleared when the cost is absent.
func (s *Store) SaveProduct(ctx context.Context, p Product) (Product, error) {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.MinimumPrice = nil
	if c := p.Attributes.Cost; c != nil {
		minPrice, err := s.calc.MinimumPrice(*c)
		if err != nil {
			return Product{}, err
		}
		p.MinimumPrice = &minPrice
	}

	now := s.now().UTC()
	if existing, err := s.GetProduct(ctx, p.ID); err == nil {
		p.CreatedAt = existing.CreatedAt
	} else if errors.Is(err, ErrNotFound) {
		p.CreatedAt = now
	} else {
		return Product{}, err
	}
	p.UpdatedAt = now

	attrs, err := json.Marshal(p.Attributes)
	if err != nil {
		return Product{}, err
	}
	row := productRow{
		ID:         p.ID,
		Attributes: string(attrs),
		CreatedAt:  p.CreatedAt.Format(timestampLayout),
		UpdatedAt:  p.UpdatedAt.Format(timestampLayout),
	}
	if p.Signals != nil {
		sig, err := json.Marshal(p.Signals)
		if err != nil {
			return Product{}, err
		}
		row.Signals = sql.NullString{String: string(sig), Valid: true}
	}
	if p.MinimumPrice != nil {
		row.MinimumPrice = sql.NullInt64{Int64: *p.MinimumPrice, Valid: true}
	}

	_, err = s.db.NamedExecContext(ctx, `INSERT OR REPLACE INTO products
		(product_id, attributes, signals, minimum_price, created_at, updated_at)
		VALUES (:product_id, :attributes, :signals, :minimum_price, :created_at, :updated_at)`, row)
	if err != nil {
		return Product{}, fmt.Errorf("save product %s: %w", p.ID, err)
	}
	s.logger.WithFields(logrus.Fields{"product_id": p.ID, "minimum_price": row.MinimumPrice.Int64}).Debug("product saved")
	return p, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (Product, error) {
	var row productRow
	err := s.db.GetContext(ctx, &row, "SELECT product_id, attributes, signals, minimum_price, created_at, updated_at FROM products WHERE product_id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Product{}, err
	}

	p := Product{ID: row.ID}
	if err := json.Unmarshal([]byte(row.Attributes), &p.Attributes); err != nil {
		return Product{}, fmt.Errorf("decode product %s: %w", id, err)
	}
	if row.Signals.Valid && row.Signals.String != "" {
		var sig appraisal.ChannelSignals
		if err := json.Unmarshal([]byte(row.Signals.String), &sig); err != nil {
			return Product{}, fmt.Errorf("decode product %s signals: %w", id, err)
		}
		p.Signals = &sig
	}
	if row.MinimumPrice.Valid {
		v := row.MinimumPrice.Int64
		p.MinimumPrice = &v
	}
	p.CreatedAt, _ = time.Parse(timestampLayout, row.CreatedAt)
	p.UpdatedAt, _ = time.Parse(timestampLayout, row.UpdatedAt)
	return p, nil
}

// SaveRun persists a run result. Partial runs are stored as they are so completed stage
// outputs survive a failed stage.
func (s *Store) SaveRun(ctx context.Context, res appraisal.RunResult) error {
	blob, err := json.Marshal(res)
	if err != nil {
		return err
	}
	row := runRow{
		RunID:         res.RunID,
		ProductID:     res.Request.ProductID,
		State:         string(res.State),
		Mode:          string(res.Metadata.Mode),
		StageFailed:   res.Metadata.StageFailed,
		FailureReason: res.Metadata.FailureReason,
		Result:        string(blob),
		Auction:       res.Channel != nil && res.Channel.UsesAuction(),
		StartedAt:     res.Metadata.StartedAt.UTC().Format(timestampLayout),
	}
	if !res.Metadata.CompletedAt.IsZero() {
		row.CompletedAt = res.Metadata.CompletedAt.UTC().Format(timestampLayout)
	}
	_, err = s.db.NamedExecContext(ctx, `INSERT OR REPLACE INTO pipeline_runs
		(run_id, product_id, state, mode, stage_failed, failure_reason, result, auction, started_at, completed_at)
		VALUES (:run_id, :product_id, :state, :mode, :stage_failed, :failure_reason, :result, :auction, :started_at, :completed_at)`, row)
	if err != nil {
		return fmt.Errorf("save run %s: %w", res.RunID, err)
	}
	s.logger.WithFields(logrus.Fields{"run_id": res.RunID, "mode": row.Mode, "state": row.State}).Info("pipeline run saved")
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (appraisal.RunResult, error) {
	var blob string
	err := s.db.GetContext(ctx, &blob, "SELECT result FROM pipeline_runs WHERE run_id = ?", runID)
	if errors.Is(err, sql.ErrNoRows) {
		return appraisal.RunResult{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return appraisal.RunResult{}, err
	}
	var res appraisal.RunResult
	if err := json.Unmarshal([]byte(blob), &res); err != nil {
		return appraisal.RunResult{}, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return res, nil
}

// ListRuns returns a product's runs, newest first.
func (s *Store) ListRuns(ctx context.Context, productID string) ([]RunSummary, error) {
	out := []RunSummary{}
	err := s.db.SelectContext(ctx, &out, `SELECT run_id, product_id, state, mode, stage_failed, auction, started_at
		FROM pipeline_runs WHERE product_id = ? ORDER BY started_at DESC, run_id DESC`, productID)
	if err != nil {
		return nil, err
	}
	return out, nil
}
