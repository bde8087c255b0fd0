//go:build !linux

package catalog

import "errors"

func deviceNumber(path string) (uint64, error) {
	return 0, errors.ErrUnsupported
}
