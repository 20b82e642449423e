// Package models picks the model definition a session launches.
package models

import "streamlaunch/native/internal/domain"

// Select returns the first model in list order whose id is modelID and whose
// version is version, or, with no version given, the first active one.
// Platform order is authoritative; list is never sorted. When two entries
// for modelID are both active, the earlier one wins.
func Select(list []domain.ModelDefinition, modelID, version string) (domain.ModelDefinition, bool) {
	for _, m := range list {
		if m.ID != modelID {
			continue
		}
		if version != "" && m.Version == version {
			return m, true
		}
		if version == "" && m.Active {
			return m, true
		}
	}
	return domain.ModelDefinition{}, false
}

// Outcome is the state of model selection for a session.
type Outcome int

const (
	// Pending means the model list has not arrived.
	Pending Outcome = iota
	Selected
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Selected:
		return "selected"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Selection is the model list together with the selection made from it.
// The id and version are fixed for a session, so a Selection only changes
// when a new list is applied.
type Selection struct {
	modelID string
	version string

	loaded  bool
	list    []domain.ModelDefinition
	model   domain.ModelDefinition
	outcome Outcome
}

// NewSelection creates a pending selection for modelID and optional version.
func NewSelection(modelID, version string) Selection {
	return Selection{modelID: modelID, version: version}
}

// Apply records a model list and recomputes the selection. An empty list
// is recorded as loaded but leaves the outcome pending: there is nothing to
// be unavailable from.
func (s Selection) Apply(list []domain.ModelDefinition) Selection {
	s.loaded = true
	s.list = append([]domain.ModelDefinition(nil), list...)
	s.model = domain.ModelDefinition{}
	s.outcome = Pending
	if len(list) == 0 {
		return s
	}
	if m, ok := Select(list, s.modelID, s.version); ok {
		s.model, s.outcome = m, Selected
	} else {
		s.outcome = Unavailable
	}
	return s
}

// Loaded reports whether a model list has been applied.
func (s Selection) Loaded() bool { return s.loaded }

// Count is the number of models in the applied list.
func (s Selection) Count() int { return len(s.list) }

// Outcome returns the current selection outcome.
func (s Selection) Outcome() Outcome { return s.outcome }

// Model returns the selected model, if any.
func (s Selection) Model() (domain.ModelDefinition, bool) {
	return s.model, s.outcome == Selected
}
