package main

import "github.com/lepinkainen/coverfinder/cmd"

var execute = cmd.Execute

func main() {
	execute()
}
