package main

import (
	"os"

	"github.com/joho/godotenv"

	cli "github.com/neboloop/domguard/cmd/domguard"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	os.Exit(cli.Execute())
}
