package main

import "github.com/inovacc/patchrun/cmd"

func main() {
	cmd.Execute()
}
