//go:build linux

package main

import (
	"wshd/cmd"
)

func main() {
	cmd.Execute()
}
