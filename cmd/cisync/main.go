package main

import (
	"fmt"
	"os"

	"github.com/pipetools/cisync/internal/cli"
	apperrors "github.com/pipetools/cisync/internal/domain/errors"
)

func main() {
	rootCmd := cli.NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(apperrors.ExitCode(err))
	}
}
