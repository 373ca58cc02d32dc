// Command xcpserver runs an XCP on UDP server with a minimal command
// interpreter and optional synthetic measurement producers.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
