package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/session-foundation/seshd/internal/account"
	"github.com/session-foundation/seshd/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	accountFlag := flag.String("account", "", "account name (overrides config default)")
	flag.Parse()

	accountName := account.Resolve(*accountFlag)
	if err := account.ValidateName(accountName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{AccountName: accountName}),
	)

	app.Run()
}
