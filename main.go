package main

import "ibstudy-server/cmd"

func main() {
	cmd.Execute()
}
