package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/jgoulah/meterscraper/internal/scraper"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if scraper.IsAuthFailure(err) {
			fmt.Fprintln(os.Stderr, "✗ Authentication failed: check username and password in", getConfigPath())
			os.Exit(2)
		}
		os.Exit(1)
	}
}
