package main

import "github.com/nextlevelbuilder/stockfleet/cmd"

func main() {
	cmd.Execute()
}
