package main

import (
	"github.com/annchain/forge/app/cmd"
)

func main() {
	cmd.Execute()
}
