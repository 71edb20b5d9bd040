// ABOUTME: Admin CLI for warrant audit and trace inspection
// ABOUTME: Opens the store directly to verify audit chains and browse delegation activity

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/warrant/internal/auditchain"
	"github.com/2389/warrant/internal/capability"
	"github.com/2389/warrant/internal/config"
	"github.com/2389/warrant/internal/store"
	"github.com/2389/warrant/internal/trace"
)

const banner = `
__      ____ _ _ __ _ __ __ _ _ __ | |_
\ \ /\ / / _' | '__| '__/ _' | '_ \| __|
 \ V  V / (_| | |  | | | (_| | | | | |_
  \_/\_/ \__,_|_|  |_|  \__,_|_| |_|\__|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "verify":
		err = cmdVerify(args)
	case "traces":
		err = cmdTraces(args)
	case "activity":
		err = cmdActivity(args)
	case "audit":
		err = cmdAudit(args)
	case "profiles":
		err = cmdProfiles()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: warrant-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  verify <user-id>             Verify the user's audit hash chain")
	fmt.Println("  audit <user-id> [limit]      Show the user's audit log entries")
	fmt.Println("  traces <goal-id>             Show the delegation tree for a goal")
	fmt.Println("  activity <user-id> [limit]   Show the user's recent delegations")
	fmt.Println("  profiles                     Show the default agent permission profiles")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  WARRANT_CONFIG               Config file path (default: warrant.yaml)")
	fmt.Println()
}

func openStore() (*store.SQLiteStore, error) {
	configPath := os.Getenv("WARRANT_CONFIG")
	if configPath == "" {
		configPath = "warrant.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return store.NewSQLiteStore(cfg.Database.Path)
}

func cmdVerify(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: verify <user-id>")
	}
	userID := args[0]

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	log := auditchain.NewLog(st, nil)

	ok, err := log.VerifyChain(context.Background(), userID)
	if err != nil {
		return fmt.Errorf("verifying chain: %w", err)
	}

	if ok {
		color.Green("Audit chain for %s verified: intact\n", userID)
		return nil
	}
	color.Red("Audit chain for %s FAILED verification: tampering or corruption detected\n", userID)
	os.Exit(2)
	return nil
}

func cmdAudit(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: audit <user-id> [limit]")
	}
	userID := args[0]
	limit := 20
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid limit %q", args[1])
		}
		limit = n
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.ListAuditEntries(context.Background(), userID)
	if err != nil {
		return fmt.Errorf("listing audit entries: %w", err)
	}

	// Entries come back oldest-first; show the newest tail.
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tSKILL\tTRIGGER\tOK\tHASH")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
			e.CreatedAt.Format(time.RFC3339),
			e.SkillID,
			truncate(e.TriggerReason, 30),
			e.Success,
			truncate(e.EntryHash, 16),
		)
	}
	return w.Flush()
}

func cmdTraces(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: traces <goal-id>")
	}
	goalID := args[0]

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	svc := trace.NewService(st, nil)

	rows, err := svc.GetTraceTree(context.Background(), goalID)
	if err != nil {
		return fmt.Errorf("loading trace tree: %w", err)
	}
	if len(rows) == 0 {
		fmt.Printf("No traces for goal %s\n", goalID)
		return nil
	}

	roots := trace.BuildTree(rows)
	for _, root := range roots {
		printTraceNode(root, 0)
	}
	return nil
}

func printTraceNode(node *trace.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	t := node.Trace

	statusColor := color.New(color.FgYellow)
	switch t.Status {
	case store.TraceCompleted:
		statusColor = color.New(color.FgGreen)
	case store.TraceFailed, store.TraceCancelled:
		statusColor = color.New(color.FgRed)
	}

	fmt.Printf("%s%s -> %s: %s [%s]\n",
		indent, t.Delegator, t.Delegatee,
		truncate(t.TaskDescription, 60),
		statusColor.Sprint(string(t.Status)),
	)

	for _, child := range node.Children {
		printTraceNode(child, depth+1)
	}
}

func cmdActivity(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: activity <user-id> [limit]")
	}
	userID := args[0]
	limit := 0
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid limit %q", args[1])
		}
		limit = n
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	svc := trace.NewService(st, nil)

	rows, err := svc.GetUserTraces(context.Background(), userID, limit, "")
	if err != nil {
		return fmt.Errorf("loading activity: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tDELEGATEE\tTASK\tSTATUS\tCOST")
	for _, t := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t$%s\n",
			t.CreatedAt.Format(time.RFC3339),
			t.Delegatee,
			truncate(t.TaskDescription, 50),
			t.Status,
			t.CostUSD.StringFixed(4),
		)
	}
	return w.Flush()
}

func cmdProfiles() error {
	profiles := capability.DefaultProfiles()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT TYPE\tALLOWED\tDENIED")
	for _, agentType := range profiles.AgentTypes() {
		p := profiles[agentType]
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			agentType,
			strings.Join(p.Allowed, ","),
			strings.Join(p.Denied, ","),
		)
	}
	return w.Flush()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
