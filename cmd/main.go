package main

import (
	"pdf-qa/internal/cli"
)

func main() {
	cli.Execute()
}
