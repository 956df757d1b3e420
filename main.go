// Command verwatch checks tracked packages for new upstream versions, as a
// one-shot CLI pass or as a long-running service with an HTTP API.
package main

import (
	"github.com/joho/godotenv"

	"github.com/verwatch/verwatch/cmd"
)

func main() {
	// Optional .env for local development; a missing file is fine.
	_ = godotenv.Load()
	cmd.Execute()
}
