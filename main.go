package main

import "github.com/togglebox/togglebox/cmd"

func main() {
	cmd.Execute()
}
