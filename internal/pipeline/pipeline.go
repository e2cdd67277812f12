package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nao1215/politecrawl/internal/config"
	"github.com/nao1215/politecrawl/internal/model"
)

// errSkip stops a job without it being a failure.
var errSkip = errors.New("skip")

// Job is the per-item state passed through the steps.
type Job struct {
	// Item is the work item being processed.
	Item model.WorkItem

	// Site is the profile entry matching the item URL.
	Site config.SiteConfig

	// Result is set by the fetch step.
	Result *model.FetchResult

	// Content is the sanitized body handed to the analysis.
	Content string

	// Analysis is the analysis output, or its fallback.
	Analysis model.AnalysisResult

	// Page is the record built by the persist step.
	Page *model.PageRecord

	// Enqueued is the number of links that passed the link policy.
	Enqueued int

	// Steps lists the steps that completed.
	Steps []string

	reserved  bool
	startedAt time.Time
}

// NewJob creates a job for item.
func NewJob(item model.WorkItem, site config.SiteConfig) *Job {
	return &Job{Item: item, Site: site, startedAt: time.Now()}
}

// Step defines the interface that all pipeline steps must implement.
type Step interface {
	// Do executes the step. Returning errSkip ends the job quietly.
	Do(ctx context.Context, job *Job) error

	// Name returns the step's name for logging purposes.
	Name() string
}

// StepFunc adapts a function to Step.
type StepFunc struct {
	StepName string
	Fn       func(ctx context.Context, job *Job) error
}

// Do implements Step.
func (s StepFunc) Do(ctx context.Context, job *Job) error { return s.Fn(ctx, job) }

// Name implements Step.
func (s StepFunc) Name() string { return s.StepName }

// Pipeline orchestrates the execution of multiple steps.
type Pipeline struct {
	steps  []Step
	logger *slog.Logger
}

// Option is a function that configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger for the pipeline.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates a new Pipeline with the given options.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		steps: make([]Step, 0),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}

	return p
}

// AddStep appends a step to the pipeline.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends multiple steps to the pipeline.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs all steps in sequence and stops at the first error.
// A skipped job returns errSkip, which callers check with IsSkip.
func (p *Pipeline) Execute(ctx context.Context, job *Job) error {
	for _, step := range p.steps {
		p.logger.Debug("executing step",
			"step", step.Name(),
			"url", job.Item.URL,
		)

		if err := step.Do(ctx, job); err != nil {
			if errors.Is(err, errSkip) {
				p.logger.Debug("job skipped",
					"step", step.Name(),
					"url", job.Item.URL,
				)
				return err
			}
			p.logger.Debug("step failed",
				"step", step.Name(),
				"url", job.Item.URL,
				"error", err,
			)
			return err
		}

		job.Steps = append(job.Steps, step.Name())
	}

	return nil
}

// IsSkip reports whether err ended a job without failure.
func IsSkip(err error) bool {
	return errors.Is(err, errSkip)
}

// StepCount returns the number of steps in the pipeline.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames returns the names of all steps in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
