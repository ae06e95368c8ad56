package main

import "datafill/cmd"

func main() {
	cmd.Execute()
}
