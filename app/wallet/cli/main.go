package main

import (
	"github.com/argonchain/argon/app/wallet/cli/cmd"
)

func main() {
	cmd.Execute()
}
