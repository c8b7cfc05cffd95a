package main

import "github.com/brensch/zstash/cmd"

func main() {
	cmd.Execute()
}
