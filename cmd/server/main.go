package main

import "shopsync/cmd/server/cmd"

func main() {
	cmd.Execute()
}
