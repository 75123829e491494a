package main

import "github.com/LegacyCodeHQ/pybrowse/cmd"

func main() {
	cmd.Execute()
}
