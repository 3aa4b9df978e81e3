package main

import (
	"os"

	"github.com/pyfix/pyfixls/internal/cmd/fixtureslsp"
)

func main() {
	os.Exit(fixtureslsp.Run(os.Args[1:]))
}
