package main

import (
	"os"

	secondmecmder "github.com/secondme/secondme/cmd/secondme"
)

func main() {
	cmd := secondmecmder.NewSecondmeCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
