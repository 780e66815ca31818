// The main package for the regs-crawler executable.
package main

import "github.com/seasonwatch/regs-crawler/cmd"

func main() {
	cmd.Execute()
}
