package main

import "github.com/Miosa-osa/OSA-sub005/cmd"

func main() {
	cmd.Execute()
}
