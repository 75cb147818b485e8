package main

import "github.com/robmorgan/halodeck/cmd"

func main() {
	cmd.Execute()
}
