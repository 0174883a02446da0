package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/mithrel/localrmi/internal/cli"
)

func main() {
	err := cli.Execute()
	var exit *cli.ExitCodeError
	switch {
	case err == nil:
	case errors.As(err, &exit):
		os.Exit(exit.Code)
	default:
		fmt.Fprintln(os.Stderr, "localrmi:", err)
		os.Exit(1)
	}
}
