// chapelotas-state inspects and pokes the chapelotas state directory.
package main

import (
	"fmt"
	"os"

	"github.com/vthunder/chapelotas/internal/app"
	"github.com/vthunder/chapelotas/internal/logging"
)

func main() {
	env := app.LoadEnv()
	if _, err := logging.Setup(env.LogLevel, ""); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	root := newRootCommand(env)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
