package main

import "github.com/x-cli-team/x-cli-sub003/cmd"

func main() {
	cmd.Execute()
}
