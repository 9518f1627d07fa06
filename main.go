package main

import "github.com/nextlevelbuilder/plugd/cmd"

func main() {
	cmd.Execute()
}
