package main

import "soraq/cmd"

func main() {
	cmd.Execute()
}
