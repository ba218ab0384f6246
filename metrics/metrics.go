package metrics

type Counter interface {
	Inc()
}

type Factory interface {
	CreateCounter(name string, description string) (Counter, error)

	// CreateGaugeFunc registers a gauge whose value is read from fn at collection time.
	CreateGaugeFunc(name string, description string, fn func() float64) error

	Start() error

	Stop() error
}
