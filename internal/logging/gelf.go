package logging

import (
	"fmt"

	"github.com/Graylog2/go-gelf/gelf"
)

// NewGelfWriter dials a Graylog UDP input. Each write becomes one GELF
// message under the service facility.
func NewGelfWriter(addr string) (*gelf.Writer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, fmt.Errorf("gelf writer %s: %w", addr, err)
	}
	w.Facility = ServiceName
	return w, nil
}
