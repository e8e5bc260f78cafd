// Package main is the entry point for brokerd, the session broker
// daemon.
package main

import (
	"fmt"
	"os"

	"github.com/sessionbroker/broker/cmd/brokerd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
