// Command authgate manages a client auth session against a GoTrue-compatible
// provider and reports the route group a client should show.
package main

import "github.com/lookym/authgate/cmd/authgate/cmd"

func main() {
	cmd.Execute()
}
