package main

import (
	"os"

	tricklecmder "github.com/papercomputeco/trickle/cmd/trickle"
)

func main() {
	cmd := tricklecmder.NewTrickleCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
