package appraisal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joelkehle/watchvault-pricing/internal/pricing"
)

const tracerName = "github.com/joelkehle/watchvault-pricing/internal/appraisal"

type StageProgressFn func(stage, message string)

type Pipeline struct {
	stages []PipelineStage
	exec   *StageExecutor
	calc   *pricing.Calculator
	logger *logrus.Entry
	tracer trace.Tracer
	now    func() time.Time
	newID  func() string
}

type Option func(*Pipeline)

func WithStages(stages []PipelineStage) Option {
	return func(p *Pipeline) { p.stages = stages }
}

func WithCalculator(c *pricing.Calculator) Option {
	return func(p *Pipeline) { p.calc = c }
}

func WithLogger(l *logrus.Entry) Option {
	return func(p *Pipeline) { p.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline validates the stage graph up front; a stage that references its own or a
// later stage's output is rejected here, never at run time.
func NewPipeline(exec *StageExecutor, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		stages: DefaultStages(),
		exec:   exec,
		calc:   pricing.NewCalculator(nil),
		logger: logrus.NewEntry(logrus.StandardLogger()),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(p)
	}
	if err := ValidateStages(p.stages); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) Stages() []PipelineStage {
	out := make([]PipelineStage, len(p.stages))
	copy(out, p.stages)
	return out
}

func (p *Pipeline) Run(ctx context.Context, req Request) (RunResult, error) {
	return p.RunWithProgress(ctx, req, nil)
}

// RunWithProgress executes the stages strictly in order. When a stage fails the remaining
// stages are skipped and the outputs already produced are returned with mode PARTIAL
// alongside a *StageError.
func (p *Pipeline) RunWithProgress(ctx context.Context, req Request, progress StageProgressFn) (RunResult, error) {
	res := RunResult{
		RunID:   p.newID(),
		Request: req,
		State:   StatePending,
		Outputs: []StageOutput{},
		Metadata: PipelineMetadata{
			StartedAt: p.now(),
			Mode:      RunModeComplete,
		},
	}
	log := p.logger.WithFields(logrus.Fields{"run_id": res.RunID, "product_id": req.ProductID})

	if c := req.Attributes.Cost; c != nil {
		if _, err := p.calc.MinimumPrice(*c); err != nil && !errors.Is(err, pricing.ErrNoProfitableMarketplace) {
			res.Metadata.FailureReason = err.Error()
			return p.finalize(res), err
		}
	}

	ctx, runSpan := p.tracer.Start(ctx, "appraisal.run", trace.WithAttributes(
		attribute.String("appraisal.run_id", res.RunID),
		attribute.String("appraisal.product_id", req.ProductID),
	))
	defer runSpan.End()

	vars := attributeVars(req.Attributes)
	vars["pricing_defaults"] = defaultsJSON()

	for i, st := range p.stages {
		if err := ctx.Err(); err != nil {
			return p.halt(res, i, err, log, runSpan)
		}
		emit(progress, st.Key, fmt.Sprintf("Pass %d: %s...", st.Order, st.Title))

		out, err := p.runStage(ctx, st, vars, req.Attributes.Photos, &res)
		if err != nil {
			return p.halt(res, i, err, log, runSpan)
		}
		res.Outputs = append(res.Outputs, out)
		res.Metadata.StagesExecuted = append(res.Metadata.StagesExecuted, st.Key)
		vars[out.Variable] = out.Text
		if next, ok := stateAfter[st.Order]; ok {
			res.State = next
		}
		log.WithFields(logrus.Fields{"stage": st.Key, "duration_ms": out.DurationMS}).Info("appraisal stage complete")
	}

	if req.Signals != nil {
		rule := DecideChannel(*req.Signals)
		res.RuleChannel = &rule
		if res.Channel != nil {
			res.ChannelConflict = ChannelConflict(*req.Signals, *res.Channel)
		}
	}
	return p.finalize(res), nil
}

func (p *Pipeline) runStage(ctx context.Context, st PipelineStage, vars map[string]string, photos []string, res *RunResult) (StageOutput, error) {
	ctx, span := p.tracer.Start(ctx, "appraisal."+st.Key, trace.WithAttributes(
		attribute.Int("appraisal.stage_order", st.Order),
		attribute.String("appraisal.stage_type", string(st.Type)),
	))
	defer span.End()

	prompt, err := Render(st, vars)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return StageOutput{}, err
	}

	started := p.now()
	res.Metadata.TotalLLMCalls++
	text, parsed, err := p.exec.Run(ctx, st, prompt, photos)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return StageOutput{}, err
	}

	switch v := parsed.(type) {
	case pricing.FormulaConfig:
		res.PricingConfig = &v
		p.applyPlatformPrices(res)
	case ChannelDecision:
		res.Channel = &v
	}
	if st.Key == KeyCompFilter {
		if bmv, err := ParseBMV(text); err == nil {
			res.BMV = &bmv
			span.SetAttributes(attribute.Float64("appraisal.bmv", bmv))
		} else {
			res.Metadata.Warnings = append(res.Metadata.Warnings, "comp filter output carries no BMV: "+err.Error())
		}
	}

	return StageOutput{
		Order:      st.Order,
		Key:        st.Key,
		Type:       st.Type,
		Variable:   outputVariable(st.Order),
		Text:       text,
		DurationMS: p.now().Sub(started).Milliseconds(),
	}, nil
}

func (p *Pipeline) applyPlatformPrices(res *RunResult) {
	cost := res.Request.Attributes.Cost
	if res.BMV == nil || cost == nil || res.PricingConfig == nil {
		res.Metadata.Warnings = append(res.Metadata.Warnings, "platform prices need BMV and unit cost")
		return
	}
	prices, err := p.calc.PlatformPrices(*res.PricingConfig, *res.BMV, *cost)
	if err != nil {
		res.Metadata.Warnings = append(res.Metadata.Warnings, "platform prices: "+err.Error())
		return
	}
	res.PlatformPrices = &prices
}

func (p *Pipeline) halt(res RunResult, failedIdx int, err error, log *logrus.Entry, span trace.Span) (RunResult, error) {
	st := p.stages[failedIdx]
	res.Metadata.Mode = RunModePartial
	res.Metadata.StageFailed = st.Key
	res.Metadata.FailureReason = err.Error()
	for _, rest := range p.stages[failedIdx+1:] {
		res.Metadata.StagesSkipped = append(res.Metadata.StagesSkipped, rest.Key)
	}
	span.SetStatus(codes.Error, err.Error())
	log.WithError(err).WithField("stage", st.Key).Warn("appraisal halted")
	return p.finalize(res), &StageError{Stage: st.Key, Err: err}
}

func (p *Pipeline) finalize(res RunResult) RunResult {
	res.Metadata.CompletedAt = p.now()
	if res.Metadata.Mode == "" {
		res.Metadata.Mode = RunModeComplete
	}
	return res
}

func emit(progress StageProgressFn, stage, message string) {
	if progress != nil {
		progress(stage, message)
	}
}
