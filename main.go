package main

import "github.com/gutche/yappin/cmd"

func main() {
	cmd.Execute()
}
