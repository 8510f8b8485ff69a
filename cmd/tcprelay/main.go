package main

import "github.com/julienstroheker/tcprelay/proxy/cmd"

func main() {
	cmd.Execute()
}
