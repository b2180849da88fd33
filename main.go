package main

import (
	"github.com/pizzawithsucuk/neptune-archiver/cmd"
	"github.com/pizzawithsucuk/neptune-archiver/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
