package main

import "gold/cmd"

func main() {
	cmd.Execute()
}
