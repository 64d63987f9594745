//go:build !linux && !tinygo

package sonar

import "fmt"

func openGPIOD(name string) (closableGPIO, error) {
	return nil, fmt.Errorf("%w: the gpiod backend is only available on Linux", ErrPkg)
}
