/*
main.go - Application entry point

PURPOSE:
  Runs the prescribing engine CLI. The default command serves the HTTP
  API; maintenance commands build the prescribing extract and match price
  concessions to packs.

COMMANDS:
  serve              HTTP API with background snapshot reloading
  build-extract      Write the parquet extract from stored prescribing
  match-concessions  Backfill concession packs and report mismatches

EXAMPLES:
  # Serve with defaults from the environment / .env
  ./server serve

  # Rebuild the extract, then serve it on another port
  ./server build-extract --db ./data/prescribing.db --out ./data/prescribing.parquet
  ./server serve --port 3000 --snapshot ./data/prescribing.parquet

SEE ALSO:
  - cmd/server/commands: Command definitions
  - config/config.go: Environment variables
*/
package main

import (
	"fmt"
	"os"

	"github.com/warp/prescribing-engine/cmd/server/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
