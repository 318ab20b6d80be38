package main

import "voting-ledger/cmd"

func main() {
	cmd.Execute()
}
