// Command enginectl is the admin CLI wrapper: it sends one flat verb to
// a running cmd/engine process over its Unix-domain-socket control
// channel and exits with the code the response carries, per spec §6
// (0 success, 2 misconfigured, 3 unreachable exchange, 4 kill-switch
// latched). Styled on the teacher's Telegram /status /balance command
// set, retargeted to a scriptable local CLI since the web/Telegram
// surface is out of scope here.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/oddsdesk/lineguard/internal/config"
	"github.com/oddsdesk/lineguard/internal/control"
)

func main() {
	socketPath := flag.String("socket", "", "control socket path (default: $CONTROL_SOCKET_PATH or /tmp/engine.sock)")
	user := flag.String("user", "", "user id the verb applies to")
	account := flag.String("account", "", "account id, for set_primary")
	allocations := flag.String("allocations", "", "comma-separated account:pct pairs, for set_allocations (e.g. acct1:60,acct2:40)")
	dryRun := flag.Bool("dry-run", false, "value for enable_dry_run")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: enginectl [flags] <verb>")
		fmt.Fprintln(os.Stderr, "verbs: status start stop drain reset_kill_switch set_allocations set_primary enable_dry_run")
		os.Exit(control.ExitMisconfigured)
	}
	verb := flag.Arg(0)

	path := *socketPath
	if path == "" {
		cfg, _ := config.Load()
		if cfg != nil {
			path = cfg.ControlSocketPath
		}
		if path == "" {
			path = "/tmp/engine.sock"
		}
	}

	req := control.Request{Verb: verb, User: *user, Account: *account, DryRun: *dryRun}

	if verb == "set_allocations" {
		entries, err := parseAllocations(*allocations)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(control.ExitMisconfigured)
		}
		req.Allocations = entries
	}

	client := control.NewClient(path)
	resp, err := client.Send(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "enginectl: %v\n", err)
		os.Exit(control.ExitExchangeUnreachable)
	}

	printResponse(verb, resp)
	os.Exit(resp.Code)
}

func parseAllocations(raw string) ([]control.AllocationEntry, error) {
	if raw == "" {
		return nil, fmt.Errorf("enginectl: -allocations is required for set_allocations")
	}

	var entries []control.AllocationEntry
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("enginectl: invalid allocation entry %q, want account:pct", pair)
		}
		pct, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("enginectl: invalid pct in %q: %w", pair, err)
		}
		entries = append(entries, control.AllocationEntry{Account: strings.TrimSpace(parts[0]), Pct: pct})
	}
	return entries, nil
}

func printResponse(verb string, resp control.Response) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Verb", "OK", "Message", "Exit Code"})
	table.Append([]string{verb, fmt.Sprintf("%t", resp.OK), resp.Message, fmt.Sprintf("%d", resp.Code)})
	table.Render()
}
