package funnel

import (
	"slices"
	"time"
)

// ModuleState is a demo conversation's objective/module progress. It is
// created empty at conversation start and mutated only by Advance; the caller
// persists the result after each advance.
type ModuleState struct {
	CompletedModules       []ModuleID                  `json:"completed_modules"`
	CompletedObjectives    []string                    `json:"completed_objectives"`
	CurrentModuleStartedAt time.Time                   `json:"current_module_started_at"`
	ModuleData             map[ModuleID]map[string]any `json:"module_data,omitempty"`
}

// NewState returns an empty progress state for a conversation that just started.
func NewState(now time.Time) ModuleState {
	return ModuleState{
		CompletedModules:       []ModuleID{},
		CompletedObjectives:    []string{},
		CurrentModuleStartedAt: now,
	}
}

// AdvanceResult reports what Advance changed.
type AdvanceResult struct {
	State            ModuleState
	ModuleID         ModuleID
	ModuleChanged    bool
	PreviousModuleID ModuleID
}

// Advance records a completed objective and moves the funnel forward when the
// current module's objective set is fully satisfied. It is a pure function:
// state is copied, never mutated in place.
//
// The progression is forward-only and linear. Completing the same objective
// twice is a no-op beyond the set insert, and a module enters
// CompletedModules exactly once. Once the last module completes the machine
// simply runs out of next modules and goes inert.
func Advance(state ModuleState, currentModuleID ModuleID, objective string, now time.Time) AdvanceResult {
	next := cloneState(state)

	if !slices.Contains(next.CompletedObjectives, objective) {
		next.CompletedObjectives = append(next.CompletedObjectives, objective)
	}

	moduleID := currentModuleID
	if moduleID == "" {
		if owner := ModuleForObjective(objective); owner != nil {
			moduleID = owner.ID
		}
	}

	res := AdvanceResult{State: next, ModuleID: moduleID, PreviousModuleID: currentModuleID}

	current := ModuleByID(moduleID)
	if current == nil {
		return res
	}
	if !objectivesComplete(current, next.CompletedObjectives) {
		return res
	}
	if slices.Contains(next.CompletedModules, current.ID) {
		return res
	}

	next.CompletedModules = append(next.CompletedModules, current.ID)
	next.CurrentModuleStartedAt = now
	res.State = next
	res.PreviousModuleID = current.ID
	res.ModuleChanged = true

	if nm := NextModule(current); nm != nil {
		res.ModuleID = nm.ID
	} else {
		res.ModuleID = current.ID
	}
	return res
}

func objectivesComplete(m *ModuleDefinition, completed []string) bool {
	for _, obj := range m.Objectives {
		if !slices.Contains(completed, obj) {
			return false
		}
	}
	return true
}

func cloneState(s ModuleState) ModuleState {
	out := ModuleState{
		CompletedModules:       slices.Clone(s.CompletedModules),
		CompletedObjectives:    slices.Clone(s.CompletedObjectives),
		CurrentModuleStartedAt: s.CurrentModuleStartedAt,
	}
	if s.ModuleData != nil {
		out.ModuleData = make(map[ModuleID]map[string]any, len(s.ModuleData))
		for k, v := range s.ModuleData {
			inner := make(map[string]any, len(v))
			for ik, iv := range v {
				inner[ik] = iv
			}
			out.ModuleData[k] = inner
		}
	}
	if out.CompletedModules == nil {
		out.CompletedModules = []ModuleID{}
	}
	if out.CompletedObjectives == nil {
		out.CompletedObjectives = []string{}
	}
	return out
}
