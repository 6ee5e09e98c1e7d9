package variables

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rendis/rigflow/internal/streaming"
	"github.com/rendis/rigflow/pkg/schema"
)

// System variable names refreshed by the engine.
const (
	SysWorkflowName = "Sys_WorkflowName"
	SysRunStartedAt = "Sys_RunStartedAt"
	SysStepIndex    = "Sys_StepIndex"
)

// Provenance records who changed a variable.
type Provenance struct {
	Source    string
	StepIndex int
}

// Store is the shared variable environment. All mutations go through one
// mutex; reads return deep copies.
type Store struct {
	mu     sync.Mutex
	vars   map[string]*schema.Variable
	hub    *streaming.Hub[schema.VariableChange]
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates an empty Store. A nil logger uses slog.Default().
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		vars:   make(map[string]*schema.Variable),
		hub:    streaming.NewHub[schema.VariableChange](0),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Get returns a copy of the named variable.
func (s *Store) Get(name string) (schema.Variable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vars[name]
	if !ok {
		return schema.Variable{}, false
	}
	return copyVariable(v), true
}

// Value returns a copy of the named variable's current value.
func (s *Store) Value(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vars[name]
	if !ok {
		return nil, false
	}
	return deepCopy(v.Value), true
}

// Exists reports whether name is defined.
func (s *Store) Exists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.vars[name]
	return ok
}

// Add defines a new variable. The value is coerced to the declared type; an
// empty type is inferred from the value.
func (s *Store) Add(v schema.Variable) error {
	if err := prepare(&v); err != nil {
		return err
	}
	return s.insert(v)
}

// prepare fills defaults and coerces the value of v.
func prepare(v *schema.Variable) error {
	if v.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "variable name is empty")
	}
	if v.Type == "" {
		v.Type = InferType(v.Value)
	}
	if v.Scope == "" {
		v.Scope = schema.ScopeGlobal
	}
	if v.Value != nil {
		coerced, err := Coerce(v.Type, v.Value)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "variable %q: cannot use %v as %s: %s",
				v.Name, v.Value, v.Type, err.Error()).WithCause(err)
		}
		v.Value = coerced
	}
	return nil
}

func (s *Store) insert(v schema.Variable) error {
	s.mu.Lock()
	if _, exists := s.vars[v.Name]; exists {
		s.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeConflict, "variable %q already exists", v.Name)
	}
	v.DisplayText = DisplayText(v.Type, v.Value)
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = s.now()
	}
	stored := copyVariable(&v)
	s.vars[v.Name] = &stored
	s.mu.Unlock()

	s.hub.Publish(schema.VariableChange{
		Type:      schema.EventVariableAdded,
		Name:      v.Name,
		NewValue:  deepCopy(v.Value),
		Source:    v.Source,
		Timestamp: v.UpdatedAt,
	})
	return nil
}

// Set assigns a new value to an existing variable. A missing name is a no-op
// that returns false and logs a warning; a read-only variable is an error.
func (s *Store) Set(name string, value any, prov Provenance) (bool, error) {
	return s.set(name, value, prov, false)
}

// SetSystem is Set without the read-only guard, for engine-maintained variables.
func (s *Store) SetSystem(name string, value any) (bool, error) {
	return s.set(name, value, Provenance{Source: "system"}, true)
}

func (s *Store) set(name string, value any, prov Provenance, force bool) (bool, error) {
	s.mu.Lock()
	v, ok := s.vars[name]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("set on undefined variable ignored", slog.String("variable", name), slog.String("source", prov.Source))
		return false, nil
	}
	if v.IsReadOnly && !force {
		s.mu.Unlock()
		return false, schema.NewErrorf(schema.ErrCodeReadOnly, "variable %q is read-only", name)
	}
	coerced, err := Coerce(v.Type, value)
	if err != nil {
		s.mu.Unlock()
		return false, schema.NewErrorf(schema.ErrCodeValidation, "variable %q: cannot use %v as %s: %s",
			name, value, v.Type, err.Error()).WithCause(err)
	}

	now := s.now()
	old := v.Value
	v.History = append(v.History, schema.HistoryEntry{
		OldValue:  deepCopy(old),
		NewValue:  deepCopy(coerced),
		Timestamp: now,
		Source:    prov.Source,
		StepIndex: prov.StepIndex,
	})
	if over := len(v.History) - schema.MaxVariableHistory; over > 0 {
		v.History = append([]schema.HistoryEntry(nil), v.History[over:]...)
	}
	v.Value = coerced
	v.DisplayText = DisplayText(v.Type, coerced)
	v.UpdatedAt = now
	v.Source = prov.Source
	v.SourceStep = prov.StepIndex
	change := schema.VariableChange{
		Type:      schema.EventVariableChanged,
		Name:      name,
		OldValue:  deepCopy(old),
		NewValue:  deepCopy(coerced),
		Source:    prov.Source,
		Timestamp: now,
	}
	s.mu.Unlock()

	s.hub.Publish(change)
	return true, nil
}

// Upsert sets name when it exists and adds it otherwise. typ is only used
// when the variable is created; empty means inferred.
func (s *Store) Upsert(name string, value any, typ schema.VariableType, prov Provenance) error {
	if s.Exists(name) {
		_, err := s.Set(name, value, prov)
		return err
	}
	err := s.Add(schema.Variable{
		Name:       name,
		Type:       typ,
		Value:      value,
		Scope:      schema.ScopeWorkflow,
		Source:     prov.Source,
		SourceStep: prov.StepIndex,
	})
	var flowErr *schema.Error
	if asFlowError(err, &flowErr) && flowErr.Code == schema.ErrCodeConflict {
		// Lost a race with another writer; fall back to Set.
		_, err = s.Set(name, value, prov)
	}
	return err
}

// Remove deletes a variable and reports whether it existed.
func (s *Store) Remove(name string) bool {
	s.mu.Lock()
	v, ok := s.vars[name]
	if ok {
		delete(s.vars, name)
	}
	s.mu.Unlock()

	if ok {
		s.hub.Publish(schema.VariableChange{
			Type:      schema.EventVariableRemoved,
			Name:      name,
			OldValue:  v.Value,
			Timestamp: s.now(),
		})
	}
	return ok
}

// GetAll returns copies of every variable sorted by name.
func (s *Store) GetAll() []schema.Variable {
	return s.list(func(*schema.Variable) bool { return true })
}

// GetUser returns copies of every non-system variable sorted by name.
func (s *Store) GetUser() []schema.Variable {
	return s.list(func(v *schema.Variable) bool { return !v.IsSystem })
}

func (s *Store) list(keep func(*schema.Variable) bool) []schema.Variable {
	s.mu.Lock()
	out := make([]schema.Variable, 0, len(s.vars))
	for _, v := range s.vars {
		if keep(v) {
			out = append(out, copyVariable(v))
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ClearUser removes every non-system variable and returns how many were removed.
func (s *Store) ClearUser() int {
	s.mu.Lock()
	var removed []*schema.Variable
	for name, v := range s.vars {
		if !v.IsSystem {
			removed = append(removed, v)
			delete(s.vars, name)
		}
	}
	s.mu.Unlock()

	now := s.now()
	for _, v := range removed {
		s.hub.Publish(schema.VariableChange{
			Type:      schema.EventVariableRemoved,
			Name:      v.Name,
			OldValue:  v.Value,
			Timestamp: now,
		})
	}
	return len(removed)
}

// Snapshot returns name → value for every variable.
func (s *Store) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]any, len(s.vars))
	for name, v := range s.vars {
		out[name] = deepCopy(v.Value)
	}
	return out
}

// Restore adds the given variables, replacing existing ones with the same name.
// System variables in the input are ignored. A variable whose value does not
// coerce leaves the existing one in place.
func (s *Store) Restore(vars []schema.Variable) error {
	for _, v := range vars {
		if v.IsSystem {
			continue
		}
		if err := prepare(&v); err != nil {
			return err
		}
		s.Remove(v.Name)
		if err := s.insert(v); err != nil {
			return err
		}
	}
	return nil
}

// SeedSystem defines (or refreshes) the read-only system variables for a run.
func (s *Store) SeedSystem(workflowName string, startedAt time.Time) {
	seed := []schema.Variable{
		{Name: SysWorkflowName, Type: schema.VariableTypeString, Value: workflowName},
		{Name: SysRunStartedAt, Type: schema.VariableTypeDateTime, Value: startedAt},
		{Name: SysStepIndex, Type: schema.VariableTypeInteger, Value: int64(0)},
	}
	for _, v := range seed {
		if s.Exists(v.Name) {
			_, _ = s.SetSystem(v.Name, v.Value)
			continue
		}
		v.Scope = schema.ScopeGlobal
		v.IsSystem = true
		v.IsReadOnly = true
		v.Source = "system"
		_ = s.Add(v)
	}
}

// Subscribe streams variable changes until cancel is called or ctx is done.
// A nil filter receives every change.
func (s *Store) Subscribe(ctx context.Context, filter streaming.Filter[schema.VariableChange]) (<-chan schema.VariableChange, func(), error) {
	return s.hub.Subscribe(ctx, filter)
}
