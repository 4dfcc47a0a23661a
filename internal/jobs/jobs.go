package jobs

import (
	"context"
	"errors"
	"evetrade/internal/components/telemetry"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

const (
	report_jobs_run = "jobs.run"
)

// Outcome is what a job did, for the run summary.
type Outcome struct {
	Rows   int64
	Detail string
}

type Job struct {
	Name        string
	Description string
	// Critical jobs produce data the jobs after them depend on, when one fails
	// the rest of the run is skipped.
	Critical bool
	Run      func(ctx context.Context) (Outcome, error)
}

// Registry is the set of jobs that can be run by name.
type Registry struct {
	jobs  map[string]Job
	order []string
}

func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{jobs: map[string]Job{}}
	for _, job := range jobs {
		if job.Name == "" || job.Run == nil {
			return nil, fmt.Errorf("job %q is missing a name or run func", job.Name)
		}
		if _, exists := r.jobs[job.Name]; exists {
			return nil, fmt.Errorf("job %s is registered twice", job.Name)
		}
		r.jobs[job.Name] = job
		r.order = append(r.order, job.Name)
	}
	return r, nil
}

// Names lists the jobs in registration order, which is also the run-all order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Resolve looks up jobs by name, keeping the order they were given in.
func (r *Registry) Resolve(names ...string) ([]Job, error) {
	out := make([]Job, 0, len(names))
	for _, name := range names {
		job, ok := r.jobs[name]
		if !ok {
			return nil, fmt.Errorf("unknown job %q, expected one of: %s", name, strings.Join(r.order, ", "))
		}
		out = append(out, job)
	}
	return out, nil
}

// All returns every job in registration order.
func (r *Registry) All() []Job {
	jobs, _ := r.Resolve(r.order...)
	return jobs
}

type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

type Report struct {
	Job      string
	Critical bool
	Status   Status
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// RunAll runs the jobs one after another. A failed job does not stop the run
// unless it is critical. The returned error joins every failure.
func RunAll(ctx context.Context, tel telemetry.API, jobs []Job) ([]Report, error) {
	tel = telemetry.NewScopedAPI("jobs", tel)

	reports := make([]Report, 0, len(jobs))
	var (
		errs    []error
		stopped bool
	)
	for _, job := range jobs {
		report := Report{Job: job.Name, Critical: job.Critical}
		if stopped || ctx.Err() != nil {
			report.Status = StatusSkipped
			reports = append(reports, report)
			continue
		}

		tel.ReportDebug("job started", telemetry.KV{Key: "job", Value: job.Name})
		start := time.Now()
		outcome, err := job.Run(ctx)
		report.Duration = time.Since(start)
		report.Outcome = outcome

		if err != nil {
			report.Status = StatusFailed
			report.Err = err
			errs = append(errs, fmt.Errorf("%s: %w", job.Name, err))
			tel.ReportBroken(report_jobs_run, telemetry.KV{Key: "job", Value: job.Name}, err)
			if job.Critical {
				stopped = true
			}
		} else {
			report.Status = StatusOK
			tel.ReportDebug(
				"job finished",
				telemetry.KV{Key: "job", Value: job.Name},
				telemetry.KV{Key: "rows", Value: outcome.Rows},
				telemetry.KV{Key: "duration", Value: report.Duration.String()},
			)
		}
		reports = append(reports, report)
	}
	if ctx.Err() != nil {
		errs = append(errs, ctx.Err())
	}
	return reports, errors.Join(errs...)
}

// RenderSummary writes a table of the reports to w.
func RenderSummary(w io.Writer, reports []Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Job", "Status", "Rows", "Duration", "Detail"})

	for _, r := range reports {
		name := r.Job
		if r.Critical {
			name += " *"
		}
		detail := r.Outcome.Detail
		if r.Err != nil {
			detail = r.Err.Error()
		}
		duration := ""
		if r.Status != StatusSkipped {
			duration = r.Duration.Round(time.Millisecond).String()
		}
		t.AppendRow(table.Row{name, r.Status, r.Outcome.Rows, duration, detail})
	}

	t.SetStyle(table.StyleRounded)
	t.Render()
}
