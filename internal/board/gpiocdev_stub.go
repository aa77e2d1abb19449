//go:build !linux

package board

import "fmt"

func openGPIOCdev(name string) (Pin, error) {
	return nil, fmt.Errorf("gpiocdev backend unsupported on this platform")
}
