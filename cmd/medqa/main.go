// Command medqa is the entry point for the pediatrics question-answering
// assistant. It ingests PDF textbooks into a vector store and answers
// questions over them from the terminal or an HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/medqa-go/cmd/medqa/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
