// Command pantry is a small host for the pantry persistence core: it stores,
// looks up and links entities in the configured backend.
package main

import "github.com/mesh-intelligence/pantry/internal/cli"

func main() {
	cli.Execute()
}
