package main

import (
	"github.com/defensight/defensight/cli"
)

func main() {
	cli.Execute()
}
