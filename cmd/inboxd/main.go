package main

import (
	"fmt"
	"os"

	"github.com/matheus3301/inbox/internal/daemon"
	"github.com/matheus3301/inbox/internal/profile"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
)

func main() {
	profileFlag := pflag.StringP("profile", "p", "", "profile name (overrides config default)")
	socketFlag := pflag.String("socket", "", "socket path (default: ~/.inbox/profiles/<profile>/daemon.sock)")
	pflag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		fx.NopLogger,
		daemon.Module(daemon.Params{ProfileName: profileName, SocketPath: *socketFlag}),
	)
	if err := app.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app.Run()
}
