package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/quatton/catmap-adapter/apps/catmapctl/cmd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "catmapctl crashed: %v\n", r)
			if os.Getenv("CATMAP_DEBUG") != "" {
				debug.PrintStack()
			}
			os.Exit(2)
		}
	}()

	cmd.Execute()
}
