//go:build darwin

package udp

import (
	"errors"
	"syscall"
)

// on darwin we filter out "can't assign requested address" errors. these happen
// when there is no link or when the interface has not yet been properly
// configured with IP addresses.

func errorMask(err error) error {
	if errors.Is(err, syscall.EADDRNOTAVAIL) {
		return nil
	}
	return err
}
