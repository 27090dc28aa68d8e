package round

// ModelMetric is one named value reported by the model updater for an
// iteration.
type ModelMetric struct {
	Iteration IterationID `json:"iteration"`
	Name      string      `json:"name"`
	Value     float64     `json:"value"`
}
