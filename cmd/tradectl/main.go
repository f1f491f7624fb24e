package main

import (
	"os"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/cmd/tradectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
