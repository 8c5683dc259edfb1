// Command bbsctl is the operator CLI for a packetbbs store: status, user
// admin (enable/disable/blacklist), job admin, and runner admin. Plain
// positional args per subcommand, no flag package surprises.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/packetbbs/core/internal/bbsstore"
)

func main() {
	dbPath := os.Getenv("PS_STORE_PATH")
	if dbPath == "" {
		dbPath = "bbs.sqlite3"
	}
	if len(os.Args) > 1 && os.Args[1] == "-db" {
		if len(os.Args) < 3 {
			fail("usage: bbsctl -db <path> <command> ...")
		}
		dbPath = os.Args[2]
		os.Args = append(os.Args[:1], os.Args[3:]...)
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	store, err := bbsstore.Open(dbPath)
	if err != nil {
		fail("open store: %v", err)
	}
	defer store.Close()

	switch os.Args[1] {
	case "status":
		cmdStatus(store)
	case "user":
		cmdUser(store, os.Args[2:])
	case "job":
		cmdJob(store, os.Args[2:])
	case "runner":
		cmdRunner(store, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: bbsctl [-db path] <command> [args...]

commands:
  status                        show server/store summary
  user list [limit]             list visible users
  user show <callsign>          show one user
  user enable <callsign>        clear a user's disabled flag
  user disable <callsign>       set a user's disabled flag
  user blacklist <callsign>     add a callsign to the blacklist
  user unblacklist <callsign>   remove a callsign from the blacklist
  job show <id>                 show one job
  job list <callsign>           list an owner's jobs
  runner active                 list jobs not yet in a terminal state`)
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func cmdStatus(store *bbsstore.Store) {
	var cfg bbsstore.Config
	var users []bbsstore.User
	err := store.Transaction(func(tx *bbsstore.Tx) error {
		var err error
		cfg, err = tx.GetConfig()
		if err != nil {
			return err
		}
		users, err = tx.ListVisibleUsers(0)
		return err
	})
	if err != nil {
		fail("status: %v", err)
	}
	fmt.Printf("Operator:    %s\n", cfg.Operator)
	fmt.Printf("Server name: %s\n", cfg.ServerName)
	fmt.Printf("Jobs:        %v (image %s, max active %d)\n", cfg.JobsEnabled, cfg.JobsConfig.Image, cfg.JobsConfig.MaxActiveJobs)
	fmt.Printf("Users:       %d\n", len(users))
	fmt.Printf("Blacklist:   %v\n", cfg.Blacklist)
}

func cmdUser(store *bbsstore.Store, args []string) {
	if len(args) == 0 {
		fail("usage: bbsctl user <list|show|enable|disable|blacklist|unblacklist> ...")
	}
	switch args[0] {
	case "list":
		limit := 0
		if len(args) > 1 {
			fmt.Sscanf(args[1], "%d", &limit)
		}
		var users []bbsstore.User
		if err := store.Transaction(func(tx *bbsstore.Tx) error {
			var err error
			users, err = tx.ListVisibleUsers(limit)
			return err
		}); err != nil {
			fail("user list: %v", err)
		}
		for _, u := range users {
			fmt.Printf("  %-8s enabled=%-5v last_seen=%s\n", u.Callsign, u.Enabled, humanize.Time(u.LastSeen))
		}
	case "show":
		requireArgs(args, 2, "bbsctl user show <callsign>")
		var u bbsstore.User
		if err := store.Transaction(func(tx *bbsstore.Tx) error {
			var err error
			u, err = tx.GetUser(args[1])
			return err
		}); err != nil {
			fail("user show: %v", err)
		}
		fmt.Printf("Callsign: %s\nUUID:     %s\nEnabled:  %v\nBio:      %s\nStatus:   %s\nLocation: %s\n",
			u.Callsign, u.UUID, u.Enabled, u.Bio, u.Status, u.Location)
	case "enable", "disable":
		requireArgs(args, 2, "bbsctl user "+args[0]+" <callsign>")
		if err := store.Transaction(func(tx *bbsstore.Tx) error {
			return tx.SetEnabled(args[1], args[0] == "enable")
		}); err != nil {
			fail("user %s: %v", args[0], err)
		}
		fmt.Printf("%s: %s\n", args[1], args[0]+"d")
	case "blacklist", "unblacklist":
		requireArgs(args, 2, "bbsctl user "+args[0]+" <callsign>")
		callsign := args[1]
		add := args[0] == "blacklist"
		if err := store.Transaction(func(tx *bbsstore.Tx) error {
			cfg, err := tx.GetConfig()
			if err != nil {
				return err
			}
			cfg.Blacklist = toggleCallsign(cfg.Blacklist, callsign, add)
			return tx.SetConfig(cfg)
		}); err != nil {
			fail("user %s: %v", args[0], err)
		}
		fmt.Printf("%s: %s\n", callsign, args[0]+"ed")
	default:
		fail("unknown user subcommand %q", args[0])
	}
}

func toggleCallsign(list []string, callsign string, add bool) []string {
	upper := strings.ToUpper(strings.TrimSpace(callsign))
	out := make([]string, 0, len(list)+1)
	found := false
	for _, c := range list {
		if c == upper {
			found = true
			if add {
				out = append(out, c)
			}
			continue
		}
		out = append(out, c)
	}
	if add && !found {
		out = append(out, upper)
	}
	return out
}

func cmdJob(store *bbsstore.Store, args []string) {
	if len(args) == 0 {
		fail("usage: bbsctl job <show|list> ...")
	}
	switch args[0] {
	case "show":
		requireArgs(args, 2, "bbsctl job show <id>")
		var id int64
		fmt.Sscanf(args[1], "%d", &id)
		var j bbsstore.Job
		if err := store.Transaction(func(tx *bbsstore.Tx) error {
			var err error
			j, err = tx.GetJob(id)
			return err
		}); err != nil {
			fail("job show: %v", err)
		}
		fmt.Printf("Job %d\nOwner:  %s\nStatus: %s\nCmd:    %v\nExit:   %d\n", j.ID, j.Owner, j.Status, j.Command, j.ReturnCode)
		fmt.Printf("Output: %s stdout, %s stderr, %s artifact\n",
			humanize.Bytes(uint64(len(j.Stdout))), humanize.Bytes(uint64(len(j.Stderr))), humanize.Bytes(uint64(len(j.Artifact))))
	case "list":
		requireArgs(args, 2, "bbsctl job list <callsign>")
		var jobs []bbsstore.Job
		if err := store.Transaction(func(tx *bbsstore.Tx) error {
			var err error
			jobs, err = tx.ListJobsByOwner(args[1])
			return err
		}); err != nil {
			fail("job list: %v", err)
		}
		for _, j := range jobs {
			fmt.Printf("  #%-6d %-10s %v\n", j.ID, j.Status, j.Command)
		}
	default:
		fail("unknown job subcommand %q", args[0])
	}
}

func cmdRunner(store *bbsstore.Store, args []string) {
	if len(args) == 0 || args[0] != "active" {
		fail("usage: bbsctl runner active")
	}
	// The orchestrator's live runner set (internal/orchestrator.Orchestrator)
	// is in-process state owned by the running bbsd; this store only knows
	// which jobs are in a non-terminal status, so report those as a proxy
	// and point at the metrics endpoint for the live container count.
	var jobs []bbsstore.Job
	if err := store.Transaction(func(tx *bbsstore.Tx) error {
		var err error
		jobs, err = tx.ListActiveJobs()
		return err
	}); err != nil {
		fail("runner active: %v", err)
	}
	if len(jobs) == 0 {
		fmt.Println("(no non-terminal jobs recorded; see packetbbs_containers_active on the bbsd metrics endpoint for the live count)")
		return
	}
	for _, j := range jobs {
		fmt.Printf("  #%-6d %-10s owner=%s\n", j.ID, j.Status, j.Owner)
	}
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fail("usage: %s", usage)
	}
}
