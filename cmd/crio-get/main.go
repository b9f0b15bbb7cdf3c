package main

import (
	"os"
)

// Version will be set at build time via -ldflags
var Version = "v0.0.1-dev"

func main() {
	os.Exit(execute(os.Args[1:], defaultDeps()))
}
