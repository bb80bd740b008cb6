package main

import "github.com/tanq16/pixreaper/cmd"

func main() {
	cmd.Execute()
}
