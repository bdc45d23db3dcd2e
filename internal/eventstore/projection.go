// Package eventstore is the build journal: an append-only SQLite log of
// build events and the history read model derived from it.
package eventstore

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"
)

// Build statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// BuildSummary is the read model of one build.
type BuildSummary struct {
	BuildID     string        `json:"build_id"`
	Status      string        `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Revision    string        `json:"revision,omitempty"`
	Trigger     string        `json:"trigger,omitempty"`
	Iterations  int           `json:"iterations"`
	Diagnostics int           `json:"diagnostics"`
	Warnings    int           `json:"warnings"`
	Files       int           `json:"files"`
	Pages       int           `json:"pages"`
	CacheHits   int64         `json:"cache_hits"`
	CacheWrites int64         `json:"cache_writes"`
	Error       string        `json:"error,omitempty"`
}

// BuildHistoryProjection rebuilds build summaries from journal events.
type BuildHistoryProjection struct {
	mu       sync.RWMutex
	store    Store
	builds   map[string]*BuildSummary
	history  []*BuildSummary // newest first
	maxSize  int
	lastSync time.Time
}

// NewBuildHistoryProjection creates a projection over store keeping at most
// maxHistorySize finished builds.
func NewBuildHistoryProjection(store Store, maxHistorySize int) *BuildHistoryProjection {
	if maxHistorySize <= 0 {
		maxHistorySize = 100
	}
	return &BuildHistoryProjection{
		store:   store,
		builds:  make(map[string]*BuildSummary),
		history: make([]*BuildSummary, 0, maxHistorySize),
		maxSize: maxHistorySize,
	}
}

// Rebuild replays every stored event.
func (p *BuildHistoryProjection) Rebuild(ctx context.Context) error {
	events, err := p.store.GetRange(ctx, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.builds = make(map[string]*BuildSummary)
	p.history = make([]*BuildSummary, 0, p.maxSize)
	for _, event := range events {
		p.applyEventLocked(event)
	}
	slices.SortStableFunc(p.history, func(a, b *BuildSummary) int { return b.StartedAt.Compare(a.StartedAt) })
	if len(p.history) > p.maxSize {
		p.history = p.history[:p.maxSize]
	}
	p.lastSync = time.Now()
	return nil
}

// Apply processes a single event.
func (p *BuildHistoryProjection) Apply(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyEventLocked(event)
}

func (p *BuildHistoryProjection) applyEventLocked(event Event) {
	buildID := event.BuildID()
	if buildID == "" {
		return
	}
	summary, exists := p.builds[buildID]
	if !exists {
		summary = &BuildSummary{BuildID: buildID, Status: StatusRunning, StartedAt: event.Timestamp()}
		p.builds[buildID] = summary
	}

	switch event.Type() {
	case TypeBuildStarted:
		var payload BuildStarted
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.Revision = payload.Revision
			summary.Trigger = payload.Trigger
		}
		summary.StartedAt = event.Timestamp()

	case TypeBuildIteration:
		summary.Iterations++

	case TypeBuildDiagnostic:
		summary.Diagnostics++
		if event.Metadata()["severity"] == "warning" {
			summary.Warnings++
		}

	case TypeBuildCompleted:
		done := event.Timestamp()
		summary.CompletedAt = &done
		summary.Duration = done.Sub(summary.StartedAt)
		var payload BuildCompleted
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.Status = payload.Outcome
			summary.Files = payload.Files
			summary.Pages = payload.Pages
			summary.CacheHits = payload.CacheHits
			summary.CacheWrites = payload.CacheWrites
			summary.Error = payload.Error
			if payload.Iterations > 0 {
				summary.Iterations = payload.Iterations
			}
		}
		p.addToHistoryLocked(summary)
	}
}

func (p *BuildHistoryProjection) addToHistoryLocked(summary *BuildSummary) {
	for _, h := range p.history {
		if h.BuildID == summary.BuildID {
			return
		}
	}
	p.history = append([]*BuildSummary{summary}, p.history...)
	if len(p.history) > p.maxSize {
		p.history = p.history[:p.maxSize]
	}

	keep := make(map[string]bool, len(p.history))
	for _, h := range p.history {
		keep[h.BuildID] = true
	}
	for id, s := range p.builds {
		if s.Status != StatusRunning && !keep[id] {
			delete(p.builds, id)
		}
	}
}

// History returns up to limit finished builds, newest first. limit <= 0
// returns all of them.
func (p *BuildHistoryProjection) History(limit int) []BuildSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := len(p.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]BuildSummary, n)
	for i := range n {
		out[i] = *p.history[i]
	}
	return out
}

// GetBuild returns the summary of one build.
func (p *BuildHistoryProjection) GetBuild(buildID string) (BuildSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.builds[buildID]
	if !ok {
		return BuildSummary{}, false
	}
	return *s, true
}

// LastSyncTime returns when the projection was last rebuilt.
func (p *BuildHistoryProjection) LastSyncTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSync
}
