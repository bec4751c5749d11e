//go:build !linux

package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "mousebrainz: input capture requires Linux (evdev and uinput)")
	os.Exit(1)
}
