package main

import "stencil/cmd/stencil/cli"

func main() {
	cli.Execute()
}
