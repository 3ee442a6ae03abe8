// The main package for the site-health-crawler executable.
package main

import (
	"github.com/JakeFAU/site-health-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
