package main

import "github.com/annexlab/annex/internal/cmd"

func main() {
	cmd.Execute()
}
