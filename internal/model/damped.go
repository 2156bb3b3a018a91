package model

import "math"

// DampedCurve is a smooth decaying curve resembling the overall shape of a
// specular response without any layer physics: an amplitude falling off
// exponentially with the decay length, on top of a flat background.
type DampedCurve struct {
	*table
	q []float64
}

// NewDampedCurve creates a damped-curve model over the given grid.
func NewDampedCurve(q []float64) *DampedCurve {
	return &DampedCurve{
		table: newTable([]Param{
			{Name: "amplitude", Value: 1.0, Min: 0.1, Max: 2.0},
			{Name: "decay", Value: 25.0, Min: 5.0, Max: 100.0},
			{Name: "background", Value: 1e-6, Min: 0, Max: 1e-4, Fixed: true},
		}),
		q: append([]float64(nil), q...),
	}
}

func (m *DampedCurve) Name() string { return "damped" }

func (m *DampedCurve) Predict() ([]float64, []float64) {
	amplitude := m.get("amplitude")
	decay := m.get("decay")
	background := m.get("background")

	r := make([]float64, len(m.q))
	for i, x := range m.q {
		r[i] = amplitude*math.Exp(-decay*x) + background
	}
	return append([]float64(nil), m.q...), r
}

func (m *DampedCurve) Clone() ForwardModel {
	return &DampedCurve{
		table: m.table.clone(),
		q:     append([]float64(nil), m.q...),
	}
}
