package main

import "github.com/lepinkainen/bookstock/cmd"

var execute = cmd.Execute

func main() {
	execute()
}
