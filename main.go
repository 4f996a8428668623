package main

import "github.com/codeswitch-dev/aicodeswitch/cmd"

func main() {
	cmd.Execute()
}
