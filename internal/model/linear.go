package model

// Linear is a straight-line model, mainly useful for calibration runs and
// tests where the posterior is analytically tractable.
type Linear struct {
	*table
	q []float64
}

// NewLinear creates a linear model over the given grid with default
// slope/intercept values and bounds.
func NewLinear(q []float64) *Linear {
	return &Linear{
		table: newTable([]Param{
			{Name: "slope", Value: 1.0, Min: -1.0, Max: 3.0},
			{Name: "intercept", Value: 0.0, Min: -2.0, Max: 2.0, Fixed: true},
		}),
		q: append([]float64(nil), q...),
	}
}

func (m *Linear) Name() string { return "linear" }

func (m *Linear) Predict() ([]float64, []float64) {
	slope := m.get("slope")
	intercept := m.get("intercept")

	r := make([]float64, len(m.q))
	for i, x := range m.q {
		r[i] = slope*x + intercept
	}
	return append([]float64(nil), m.q...), r
}

func (m *Linear) Clone() ForwardModel {
	return &Linear{
		table: m.table.clone(),
		q:     append([]float64(nil), m.q...),
	}
}
