package main

import "github.com/med-ivrit/medivrit-ops/cmd"

func main() {
	cmd.Execute()
}
