package main

import (
	"os"

	"taskdash/cmd/taskdash/cmd"
)

func main() {
	os.Exit(cmd.Execute(os.Args[1:], os.Stdout, os.Stderr, nil))
}
