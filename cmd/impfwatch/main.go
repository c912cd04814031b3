package main

import (
	"os"

	"impfwatch/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
