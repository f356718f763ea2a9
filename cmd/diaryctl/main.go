package main

import "os"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	err := rootCmd.Execute()
	closeJournal()
	if err != nil {
		os.Exit(1)
	}
}
