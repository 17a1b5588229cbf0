// The main package for the ecourts-archiver executable.
package main

import (
	"github.com/openjudiciary/ecourts-archiver/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
