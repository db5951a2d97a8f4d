package main

import "github.com/LeeDigitalWorks/vospace/cmd"

func main() {
	cmd.Execute()
}
