package main

import "github.com/gpulend/gpulend-cli/cmd"

func main() {
	cmd.Execute()
}
