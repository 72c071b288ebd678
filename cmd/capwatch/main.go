package main

import "github.com/ppiankov/capwatch/internal/cli"

func main() {
	cli.Execute()
}
