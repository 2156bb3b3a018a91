// Package model defines the forward-model contract consumed by the planner.
//
// A forward model exposes a flat, ordered table of named parameters and a
// Predict operation returning the noise-free curve for the current parameter
// values. The table is built once at construction; there is no runtime tree
// walking.
package model

import (
	"fmt"
	"math"
)

// Param is one leaf of a model's parameter table. Fixed parameters are part
// of the model configuration but are not varied during posterior sampling.
type Param struct {
	Name  string
	Value float64
	Min   float64
	Max   float64
	Fixed bool
}

// ForwardModel is the contract between the planner and a physical model.
// Mutating a parameter through Set and calling Predict again must reflect
// the new value.
type ForwardModel interface {
	// Name identifies the model kind
	Name() string
	// Params returns the parameter table in construction order
	Params() []Param
	// Set updates a named parameter's value
	Set(name string, value float64) error
	// SetBounds updates a named parameter's bounds
	SetBounds(name string, min, max float64) error
	// Predict returns the independent variable and the noise-free curve
	Predict() (q, r []float64)
	// Clone returns a deep copy safe to hand to another worker
	Clone() ForwardModel
}

// FitParams returns the non-fixed parameters of a model, in table order.
func FitParams(m ForwardModel) []Param {
	var fit []Param
	for _, p := range m.Params() {
		if !p.Fixed {
			fit = append(fit, p)
		}
	}
	return fit
}

// table is the shared parameter-table implementation embedded by the
// concrete models.
type table struct {
	order  []string
	params map[string]*Param
}

func newTable(params []Param) *table {
	t := &table{
		params: make(map[string]*Param, len(params)),
	}
	for i := range params {
		p := params[i]
		t.order = append(t.order, p.Name)
		t.params[p.Name] = &p
	}
	return t
}

func (t *table) Params() []Param {
	out := make([]Param, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, *t.params[name])
	}
	return out
}

func (t *table) Set(name string, value float64) error {
	p, ok := t.params[name]
	if !ok {
		return fmt.Errorf("parameter %s not found in model", name)
	}
	p.Value = value
	return nil
}

func (t *table) SetBounds(name string, min, max float64) error {
	p, ok := t.params[name]
	if !ok {
		return fmt.Errorf("parameter %s not found in model", name)
	}
	if math.IsNaN(min) || math.IsNaN(max) {
		return fmt.Errorf("parameter %s: bounds cannot be NaN", name)
	}
	p.Min = min
	p.Max = max
	return nil
}

func (t *table) get(name string) float64 {
	return t.params[name].Value
}

func (t *table) clone() *table {
	out := &table{
		order:  append([]string(nil), t.order...),
		params: make(map[string]*Param, len(t.params)),
	}
	for name, p := range t.params {
		cp := *p
		out.params[name] = &cp
	}
	return out
}

// Grid returns n evenly spaced points over [min, max] inclusive.
func Grid(min, max float64, n int) []float64 {
	if n < 2 {
		return []float64{min}
	}
	q := make([]float64, n)
	step := (max - min) / float64(n-1)
	for i := range q {
		q[i] = min + float64(i)*step
	}
	return q
}
