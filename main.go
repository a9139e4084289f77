package main

import "s2-datacube/cmd"

func main() {
	cmd.Execute()
}
