package main

import (
	"github.com/kashguard/go-consensus-infra/cmd"
)

func main() {
	cmd.Execute()
}
