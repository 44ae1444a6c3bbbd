package main

import "shopsync/cmd/client/cmd"

func main() {
	cmd.Execute()
}
