package main

import "github.com/joegoldin/transcribe/cmd"

func main() {
	cmd.Execute()
}
