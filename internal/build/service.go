package build

import (
	"context"
	"time"

	"git.home.luguber.info/inful/sitegen/internal/assemble"
	"git.home.luguber.info/inful/sitegen/internal/cache"
	"git.home.luguber.info/inful/sitegen/internal/config"
	"git.home.luguber.info/inful/sitegen/internal/diag"
)

// Service executes site builds.
type Service interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// Request contains the inputs of one build.
type Request struct {
	Config *config.Config

	// OutputDir overrides build.output_dir when set.
	OutputDir string

	// Incremental updates the output directory in place instead of swapping
	// in a staged copy.
	Incremental bool

	// Trigger records what started the build (cli, watch, schedule).
	Trigger string
}

// Status is the outcome of a build.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusWarning   Status = "warning"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsSuccess reports whether the build produced output.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess || s == StatusWarning
}

// Result is the build report.
type Result struct {
	BuildID    string
	Status     Status
	OutputPath string
	Revision   string

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	Iterations  int
	Nodes       map[string]int
	Files       int
	Pages       int
	Assets      int
	Derivatives int
	Write       assemble.WriteStats
	Cache       cache.Stats

	// Diagnostics are the recoverable problems of the build, in the order
	// they were recorded.
	Diagnostics []diag.Diagnostic
}
