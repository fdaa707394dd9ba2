package main

import "reimage/cmd"

func main() {
	cmd.Execute()
}
