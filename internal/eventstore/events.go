package eventstore

import (
	"context"
	"encoding/json"

	"git.home.luguber.info/inful/sitegen/internal/diag"
)

// BuildStarted is the payload of build.started.
type BuildStarted struct {
	ConfigPath  string   `json:"config_path"`
	OutputDir   string   `json:"output_dir"`
	Revision    string   `json:"revision,omitempty"`
	Incremental bool     `json:"incremental"`
	Plugins     []string `json:"plugins"`
	Trigger     string   `json:"trigger,omitempty"`
}

// BuildIteration is the payload of build.iteration.
type BuildIteration struct {
	Iteration   int     `json:"iteration"`
	Active      int     `json:"active"`
	Invocations int     `json:"invocations"`
	Added       int     `json:"added"`
	Skipped     int     `json:"skipped"`
	DurationMS  float64 `json:"duration_ms"`
}

// BuildCompleted is the payload of build.completed.
type BuildCompleted struct {
	Outcome     string         `json:"outcome"`
	DurationMS  float64        `json:"duration_ms"`
	Iterations  int            `json:"iterations"`
	Nodes       map[string]int `json:"nodes,omitempty"`
	Files       int            `json:"files"`
	Pages       int            `json:"pages"`
	Assets      int            `json:"assets"`
	Diagnostics int            `json:"diagnostics"`
	CacheHits   int64          `json:"cache_hits"`
	CacheWrites int64          `json:"cache_writes"`
	OutputDir   string         `json:"output_dir"`
	Error       string         `json:"error,omitempty"`
}

// Journal appends the events of one build. A nil *Journal discards them.
type Journal struct {
	store   Store
	buildID string
}

// NewJournal binds store to buildID.
func NewJournal(store Store, buildID string) *Journal {
	return &Journal{store: store, buildID: buildID}
}

// BuildID returns the build the journal records.
func (j *Journal) BuildID() string {
	if j == nil {
		return ""
	}
	return j.buildID
}

func (j *Journal) append(ctx context.Context, eventType string, payload any, meta map[string]string) error {
	if j == nil || j.store == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return storeError(err, "marshal event payload").
			WithContext("build_id", j.buildID).
			WithContext("event_type", eventType).Build()
	}
	return j.store.Append(ctx, j.buildID, eventType, data, meta)
}

// Started records build.started.
func (j *Journal) Started(ctx context.Context, e BuildStarted) error {
	return j.append(ctx, TypeBuildStarted, e, nil)
}

// Iteration records build.iteration.
func (j *Journal) Iteration(ctx context.Context, e BuildIteration) error {
	return j.append(ctx, TypeBuildIteration, e, nil)
}

// Diagnostic records build.diagnostic with its severity as metadata.
func (j *Journal) Diagnostic(ctx context.Context, d diag.Diagnostic) error {
	return j.append(ctx, TypeBuildDiagnostic, d, map[string]string{"severity": string(d.Severity)})
}

// Completed records build.completed.
func (j *Journal) Completed(ctx context.Context, e BuildCompleted) error {
	return j.append(ctx, TypeBuildCompleted, e, map[string]string{"outcome": e.Outcome})
}
