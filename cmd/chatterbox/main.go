package main

import (
	"os"

	"github.com/msto63/chatterbox-ui/cmd/chatterbox/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
