package stage

// Health summarizes the readiness of a pipeline stage. The daemon surfaces
// these on the health endpoint and the CLI status view.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs a not-ready Health record with detail for operators.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}
