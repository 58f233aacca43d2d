package staticreview

import "github.com/mwaldron/foreman/internal/port/reviewer"

func init() {
	reviewer.Register(backendName, func(config map[string]string) (reviewer.Agent, error) {
		return New(config), nil
	})
}
