// The main package for the chapter-archiver executable.
package main

import (
	"github.com/JakeFAU/chapter-archiver/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
