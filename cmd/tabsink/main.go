package main

import (
	"os"

	"github.com/G-Research/tabsink/cmd/tabsink/cmd"
	"github.com/G-Research/tabsink/internal/common"
)

func main() {
	common.ConfigureCommandLineLogging()
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
