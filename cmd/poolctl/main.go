package main

import "github.com/fyerfyer/connpool/cmd/poolctl/cmd"

func main() {
	cmd.Execute()
}
