package main

import (
	"fmt"
	"os"

	"inferlet/internal/irx"
)

func main() {
	if err := irx.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
