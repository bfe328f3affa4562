package main

import (
	"os"

	"github.com/roelfdiedericks/golisten/internal/cli"
)

var version = "0.1.0"

func main() {
	os.Exit(cli.Run(os.Args[1:], version))
}
