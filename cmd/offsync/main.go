package main

import "github.com/mediflow/offsync/cmd/offsync/cmd"

func main() {
	cmd.Execute()
}
