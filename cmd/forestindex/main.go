// cmd/forestindex/main.go
//
// forestindex - interactive shell for building and querying terrestrial
// LiDAR forest point-cloud indexes.
//
// Usage:
//
//	forestindex
//
// Use ".help" inside the shell for available commands.
package main

import (
	"os"

	"github.com/VUKOZ-OEL/3d-forest-sub004/pkg/shell"
)

func main() {
	session := shell.NewSession(os.Stdin, os.Stdout, os.Stderr)
	defer session.Close()

	session.Run()
}
