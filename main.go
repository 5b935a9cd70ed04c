package main

import "github.com/adamgarcia4/goLearning/hermes/cmd"

func main() {
	cmd.Execute()
}
