// ABOUTME: Entry point for the audiopipe player
// ABOUTME: Hands the command line to the cobra command tree
package main

import "github.com/Resonate-Protocol/audiopipe/internal/cli"

func main() {
	cli.Execute()
}
