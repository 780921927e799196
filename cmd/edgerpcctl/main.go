package main

import (
	"fmt"
	"os"

	"github.com/danmuck/edgerpc/internal/observability"
)

func main() {
	observability.InitLogger("edgerpcctl")
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "edgerpcctl: %v\n", err)
		os.Exit(1)
	}
}
