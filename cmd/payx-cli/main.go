package main

import "cryptopayx/cmd/payx-cli/cmd"

func main() {
	cmd.Execute()
}
