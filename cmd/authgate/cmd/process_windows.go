//go:build windows

package cmd

import "os"

// gracefulSignals returns the OS signals that stop watch mode.
// On Windows only os.Interrupt is reliably delivered.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
