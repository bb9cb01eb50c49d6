//go:build !windows

package sysproxy

import "fmt"

func newRegistry() (Backend, error) {
	return nil, fmt.Errorf("%w: registry backend requires windows", ErrUnsupported)
}
