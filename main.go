package main

import "github.com/wharfside/imagecat/cmd"

func main() {
	cmd.Execute()
}
