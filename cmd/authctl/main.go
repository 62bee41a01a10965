// Package main is the entry point for authctl, the operator CLI for the auth service.
package main

import (
	"os"

	"socialauth/cmd/authctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
