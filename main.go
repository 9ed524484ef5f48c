package main

import "github.com/ua-hep/afw/cmd"

func main() {
	cmd.Execute()
}
