package ai

import (
	"context"
	"fmt"
	"sync"

	"quill/api/internal/markup"
	"quill/api/internal/surface"
	"quill/api/internal/track"
)

type State int

const (
	StateIdle State = iota
	StateCaptured
	StateRequesting
	StateApplying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCaptured:
		return "captured"
	case StateRequesting:
		return "requesting"
	case StateApplying:
		return "applying"
	}
	return "unknown"
}

// Orchestrator runs one inline edit at a time: capture regions, send their
// texts with an instruction, splice the results back into the exact tracked
// regions. A failed request keeps the capture alive for retry; a cancelled
// capture discards any late response.
type Orchestrator struct {
	gen     Generator
	tracker *track.Tracker

	mu        sync.Mutex
	state     State
	group     track.Group
	epoch     int
	lastError string
}

func NewOrchestrator(gen Generator, tracker *track.Tracker) *Orchestrator {
	return &Orchestrator{gen: gen, tracker: tracker}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Group() track.Group {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.group
}

func (o *Orchestrator) LastError() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastError
}

// Capture begins a group over the current selection ranges. A selection that
// yields zero markers causes no state change and no affordance.
func (o *Orchestrator) Capture(ranges []surface.Range) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateIdle {
		return false
	}
	group, ok := o.tracker.BeginGroup(ranges, markup.RoleAIEdit)
	if !ok {
		return false
	}
	o.group = group
	o.state = StateCaptured
	o.lastError = ""
	return true
}

// Cancel unwraps the captured regions without touching their content. Safe
// to call while a request is in flight; the eventual response is discarded.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateCaptured && o.state != StateRequesting {
		return
	}
	_ = o.tracker.EndGroup(o.group.ID, track.EndUnwrap, nil)
	o.finishLocked()
}

// Run sends the captured texts with the instruction and applies the result.
// On a generation error the markers stay in place (state Captured) so the
// user can retry with the same or a different instruction.
func (o *Orchestrator) Run(ctx context.Context, instruction string) error {
	o.mu.Lock()
	if o.state != StateCaptured {
		o.mu.Unlock()
		return fmt.Errorf("inline edit: no capture in progress")
	}
	texts := o.tracker.ResolveGroup(o.group.ID)
	if len(texts) == 0 {
		_ = o.tracker.EndGroup(o.group.ID, track.EndUnwrap, nil)
		o.finishLocked()
		o.mu.Unlock()
		return fmt.Errorf("inline edit: captured regions are empty")
	}
	o.state = StateRequesting
	epoch := o.epoch
	groupID := o.group.ID
	o.mu.Unlock()

	prompt := BuildPrompt(instruction, texts)
	response, err := o.gen.Generate(ctx, prompt)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.epoch != epoch {
		// Cancelled while the request was in flight; the markers are gone
		// already, so the late response has nothing to land on.
		return nil
	}
	if err != nil {
		o.state = StateCaptured
		o.lastError = err.Error()
		return fmt.Errorf("inline edit: %w", err)
	}

	o.state = StateApplying
	replacements := SplitResponse(response, len(texts))
	if err := o.tracker.EndGroup(groupID, track.EndReplaceAll, replacements); err != nil {
		o.state = StateCaptured
		o.lastError = err.Error()
		return fmt.Errorf("inline edit: %w", err)
	}
	o.finishLocked()
	return nil
}

func (o *Orchestrator) finishLocked() {
	o.state = StateIdle
	o.group = track.Group{}
	o.epoch++
	o.lastError = ""
}
