package main

import "flipperBot/cmd"

func main() {
	cmd.Execute()
}
