package main

import "github.com/andresmejia3/crossfade/cmd"

func main() {
	cmd.Execute()
}
