package main

import "github.com/jianyun8023/golibri/cmd/golibri/commands"

func main() {
	commands.Execute()
}
