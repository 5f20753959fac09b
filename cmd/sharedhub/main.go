package main

import "github.com/nfrund/sharedhub/cmd/sharedhub/cmd"

func main() {
	cmd.Execute()
}
