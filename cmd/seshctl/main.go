package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/session-foundation/seshd/internal/account"
	"github.com/session-foundation/seshd/internal/ctl"
)

func main() {
	accountFlag := flag.String("account", "", "account name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	accountName := account.Resolve(*accountFlag)
	if err := account.ValidateName(accountName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := ctl.New(account.SocketPath(accountName))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "contacts":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: seshctl contacts <list|nickname|approve|block|unblock|hide|remove> ...")
			os.Exit(1)
		}
		cmdContacts(ctx, c, args[1:], *jsonFlag)
	case "sync":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: seshctl sync <status|push>")
			os.Exit(1)
		}
		cmdSync(ctx, c, args[1], *jsonFlag)
	case "accounts":
		if len(args) >= 2 && args[1] == "list" {
			cmdAccountsList(*jsonFlag)
		} else {
			fmt.Fprintln(os.Stderr, "usage: seshctl accounts list")
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: seshctl [--account <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                        Show daemon status")
	fmt.Fprintln(os.Stderr, "  contacts list                 List contacts")
	fmt.Fprintln(os.Stderr, "  contacts nickname <id> <name> Set a contact nickname (empty name clears)")
	fmt.Fprintln(os.Stderr, "  contacts approve <id>         Approve a contact")
	fmt.Fprintln(os.Stderr, "  contacts block <id>           Block a contact")
	fmt.Fprintln(os.Stderr, "  contacts unblock <id>         Unblock a contact")
	fmt.Fprintln(os.Stderr, "  contacts hide <id>...         Hide conversations")
	fmt.Fprintln(os.Stderr, "  contacts remove <id>...       Remove contacts and their conversations")
	fmt.Fprintln(os.Stderr, "  sync status                   Show sync state and queue depth")
	fmt.Fprintln(os.Stderr, "  sync push                     Upload pending config pushes now")
	fmt.Fprintln(os.Stderr, "  accounts list                 List known accounts")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func cmdStatus(ctx context.Context, c *ctl.Client, jsonOut bool) {
	resp, err := c.Status(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Account:  %s\n", resp.Account)
	fmt.Printf("PubKey:   %s\n", resp.PubKey)
	fmt.Printf("State:    %s\n", resp.State)
	fmt.Printf("Uptime:   %ds\n", resp.UptimeSecs)
	fmt.Printf("Contacts: %d\n", resp.Contacts)
	fmt.Printf("Threads:  %d\n", resp.Threads)
}

func cmdContacts(ctx context.Context, c *ctl.Client, args []string, jsonOut bool) {
	switch args[0] {
	case "list":
		contacts, err := c.Contacts(ctx)
		if err != nil {
			fatal(err)
		}
		if jsonOut {
			outputJSON(contacts)
			return
		}
		if len(contacts) == 0 {
			fmt.Println("No contacts.")
			return
		}
		for _, ct := range contacts {
			name := ct.Name
			if ct.Nickname != "" {
				name = ct.Nickname
			}
			flags := ""
			if ct.IsBlocked {
				flags = " [blocked]"
			}
			fmt.Printf("%-66s %s%s\n", ct.ID, name, flags)
		}
	case "nickname":
		if len(args) < 2 {
			fatal(fmt.Errorf("usage: seshctl contacts nickname <id> [name]"))
		}
		nickname := ""
		if len(args) >= 3 {
			nickname = args[2]
		}
		if err := c.SetNickname(ctx, args[1], nickname); err != nil {
			fatal(err)
		}
		fmt.Println("OK")
	case "approve":
		if len(args) < 2 {
			fatal(fmt.Errorf("usage: seshctl contacts approve <id>"))
		}
		if err := c.Approve(ctx, args[1]); err != nil {
			fatal(err)
		}
		fmt.Println("OK")
	case "block", "unblock":
		if len(args) < 2 {
			fatal(fmt.Errorf("usage: seshctl contacts %s <id>", args[0]))
		}
		if err := c.SetBlocked(ctx, args[1], args[0] == "block"); err != nil {
			fatal(err)
		}
		fmt.Println("OK")
	case "hide":
		if len(args) < 2 {
			fatal(fmt.Errorf("usage: seshctl contacts hide <id>..."))
		}
		if err := c.Hide(ctx, args[1:]); err != nil {
			fatal(err)
		}
		fmt.Println("OK")
	case "remove":
		if len(args) < 2 {
			fatal(fmt.Errorf("usage: seshctl contacts remove <id>..."))
		}
		if err := c.Remove(ctx, args[1:]); err != nil {
			fatal(err)
		}
		fmt.Println("OK")
	default:
		fatal(fmt.Errorf("unknown contacts subcommand: %s", args[0]))
	}
}

func cmdSync(ctx context.Context, c *ctl.Client, subcmd string, jsonOut bool) {
	switch subcmd {
	case "status":
		resp, err := c.SyncStatus(ctx)
		if err != nil {
			fatal(err)
		}
		if jsonOut {
			outputJSON(resp)
			return
		}
		fmt.Printf("State: %s\n", resp.State)
		for _, s := range []string{"queued", "sending", "sent"} {
			fmt.Printf("%-8s %d\n", s+":", resp.Queue[s])
		}
	case "push":
		if err := c.ForcePush(ctx); err != nil {
			fatal(err)
		}
		fmt.Println("OK")
	default:
		fatal(fmt.Errorf("unknown sync subcommand: %s", subcmd))
	}
}

func cmdAccountsList(jsonOut bool) {
	names, err := account.List()
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(names)
		return
	}
	if len(names) == 0 {
		fmt.Println("No accounts found.")
		return
	}
	for _, name := range names {
		running := "stopped"
		if _, err := os.Stat(account.SocketPath(name)); err == nil {
			running = "running"
		}
		fmt.Printf("%-20s %s (%s)\n", name, account.Dir(name), running)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
