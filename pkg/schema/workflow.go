package schema

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Workflow is an ordered, numbered list of steps.
type Workflow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Steps       []*Step   `json:"steps"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewWorkflow creates an empty workflow with a fresh ID.
func NewWorkflow(name string) *Workflow {
	now := time.Now().UTC()
	return &Workflow{
		ID:        uuid.New().String(),
		Name:      name,
		Steps:     []*Step{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddStep appends a step.
func (w *Workflow) AddStep(s *Step) {
	w.Steps = append(w.Steps, s)
	w.touch()
}

// InsertStep inserts a step before the zero-based index. index == len(Steps)
// appends.
func (w *Workflow) InsertStep(index int, s *Step) error {
	if index < 0 || index > len(w.Steps) {
		return NewErrorf(ErrCodeValidation, "insert index %d out of range [0,%d]", index, len(w.Steps))
	}
	w.Steps = append(w.Steps, nil)
	copy(w.Steps[index+1:], w.Steps[index:])
	w.Steps[index] = s
	w.touch()
	return nil
}

// RemoveStep removes the step at the zero-based index.
func (w *Workflow) RemoveStep(index int) error {
	if err := w.checkIndex(index); err != nil {
		return err
	}
	w.Steps = append(w.Steps[:index], w.Steps[index+1:]...)
	w.touch()
	return nil
}

// MoveStep moves the step at from so that it ends up at index to.
func (w *Workflow) MoveStep(from, to int) error {
	if err := w.checkIndex(from); err != nil {
		return err
	}
	if err := w.checkIndex(to); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	s := w.Steps[from]
	w.Steps = append(w.Steps[:from], w.Steps[from+1:]...)
	w.Steps = append(w.Steps[:to], append([]*Step{s}, w.Steps[to:]...)...)
	w.touch()
	return nil
}

// UpdateParameter replaces the payload of the step at index. The payload
// must match the step's type.
func (w *Workflow) UpdateParameter(index int, p Parameter) error {
	if err := w.checkIndex(index); err != nil {
		return err
	}
	if p == nil {
		return NewError(ErrCodeValidation, "parameter payload is nil")
	}
	s := w.Steps[index]
	if p.StepType() != s.Type {
		return NewErrorf(ErrCodeValidation, "parameter payload %s does not match step type %s",
			p.StepType(), s.Type).WithStep(index)
	}
	s.Params = p
	w.UpdatedAt = time.Now().UTC()
	return nil
}

// Renumber assigns contiguous numbers 1..N in list order.
func (w *Workflow) Renumber() {
	for i, s := range w.Steps {
		s.Number = i + 1
	}
}

// ResetStatus puts every top-level step back to pending and clears errors.
func (w *Workflow) ResetStatus() {
	for _, s := range w.Steps {
		s.Status = StepStatusPending
		s.Error = ""
	}
}

// Validate checks every step (recursively through condition and loop
// bodies) for discriminant/payload agreement.
func (w *Workflow) Validate() *ValidationResult {
	r := &ValidationResult{}
	validateSteps(r, "steps", w.Steps)
	return r
}

func validateSteps(r *ValidationResult, prefix string, steps []*Step) {
	for i, s := range steps {
		path := indexPath(prefix, i)
		if s == nil {
			r.AddError(path, ErrCodeValidation, "step is nil")
			continue
		}
		sr := s.Validate()
		r.MergeAt(path, sr)
		if !sr.Valid() {
			continue
		}
		for _, nested := range Nested(s.Params) {
			validateSteps(r, path+".params."+nested.Field, nested.Steps)
		}
	}
}

func indexPath(prefix string, i int) string {
	return prefix + "[" + strconv.Itoa(i) + "]"
}

func (w *Workflow) checkIndex(index int) error {
	if index < 0 || index >= len(w.Steps) {
		return NewErrorf(ErrCodeValidation, "step index %d out of range [0,%d)", index, len(w.Steps))
	}
	return nil
}

func (w *Workflow) touch() {
	w.Renumber()
	w.UpdatedAt = time.Now().UTC()
}
