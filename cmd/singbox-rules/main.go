package main

import (
	"os"

	"github.com/cinmou/singbox-rules/internal/cliapp"
)

func main() {
	os.Exit(cliapp.Run(os.Args[1:]))
}
