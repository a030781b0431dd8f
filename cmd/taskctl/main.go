// Command taskctl inspects the taskflow database directly: tasks,
// executions and the audit log. It bypasses the API and its role checks,
// so it is meant for operators with database access.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"taskflow/internal/config"
	"taskflow/internal/db"
	"taskflow/pkg/audit"
	"taskflow/pkg/execution"
	"taskflow/pkg/gate"
	"taskflow/pkg/task"
	"taskflow/pkg/user"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	dsn, err := config.DatabaseURL()
	if err != nil {
		fatal("%v", err)
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, dsn)
	if err != nil {
		fatal("connect: %v", err)
	}
	defer pool.Close()

	users := user.NewPgStore(pool)
	tasks := task.NewPgStore(pool)
	execs := execution.NewPgStore(pool)
	events := audit.NewPgStore(pool)

	switch os.Args[1] {
	case "audit":
		handleAudit(ctx, events, os.Args[2:])
	case "task":
		reg := task.NewRegistry(tasks, users, nil, gate.TaskReadOpen, events, nil)
		handleTask(ctx, tasks, reg, os.Args[2:])
	case "execution":
		handleExecution(ctx, execs, os.Args[2:])
	case "status":
		handleStatus(ctx, tasks, execs)
	case "init":
		if err := db.EnsureSchema(ctx, users, tasks, execs, events); err != nil {
			fatal("init: %v", err)
		}
		fmt.Println(`{"status":"ok","message":"all tables initialized"}`)
	default:
		usage()
		os.Exit(1)
	}
}

func handleAudit(ctx context.Context, store audit.Store, args []string) {
	if len(args) == 0 {
		fatal("usage: taskctl audit <list|verify> [--type=...] [--limit=N] [--format=short]")
	}

	switch args[0] {
	case "list":
		flags := parseFlags(args[1:])
		limit := intFlag(flags, "limit", 20)
		var (
			events []audit.Event
			err    error
		)
		if t := flags["type"]; t != "" {
			events, err = store.ByType(ctx, t, limit)
		} else {
			events, err = store.Recent(ctx, limit)
		}
		if err != nil {
			fatal("list events: %v", err)
		}
		if flags["format"] == "short" {
			printShortEvents(events)
		} else {
			printJSON(events)
		}

	case "verify":
		if err := store.VerifyChain(ctx); err != nil {
			fatal("chain broken: %v", err)
		}
		fmt.Println(`{"intact":true}`)

	default:
		fatal("unknown audit command: %s", args[0])
	}
}

func handleTask(ctx context.Context, store task.Store, reg *task.Registry, args []string) {
	if len(args) == 0 {
		fatal("usage: taskctl task <list|show|set-status> [--assignee=ID] [--format=short]")
	}

	switch args[0] {
	case "list":
		flags := parseFlags(args[1:])
		var (
			tasks []task.Task
			err   error
		)
		if a := intFlag(flags, "assignee", 0); a > 0 {
			tasks, err = store.OpenByAssignee(ctx, int64(a))
		} else {
			tasks, err = store.List(ctx)
		}
		if err != nil {
			fatal("list tasks: %v", err)
		}
		if flags["format"] == "short" {
			printShortTasks(tasks)
		} else {
			printJSON(tasks)
		}

	case "show":
		t, err := store.Get(ctx, idArg(args, "task show"))
		if err != nil {
			fatal("get task: %v", err)
		}
		printJSON(t)

	case "set-status":
		if len(args) < 3 {
			fatal("usage: taskctl task set-status <id> <pending|in_progress|completed>")
		}
		id := idArg(args, "task set-status")
		ok, err := reg.UpdateTaskStatus(ctx, id, task.Status(args[2]))
		if err != nil {
			fatal("set status: %v", err)
		}
		if !ok {
			fatal("task %d not found", id)
		}
		printJSON(map[string]any{"id": id, "status": args[2]})

	default:
		fatal("unknown task command: %s", args[0])
	}
}

func handleExecution(ctx context.Context, store execution.Store, args []string) {
	if len(args) == 0 {
		fatal("usage: taskctl execution <list|show> [--collaborator=ID]")
	}

	switch args[0] {
	case "list":
		flags := parseFlags(args[1:])
		var (
			execs []execution.Execution
			err   error
		)
		if c := intFlag(flags, "collaborator", 0); c > 0 {
			execs, err = store.ByCollaborator(ctx, int64(c))
		} else {
			execs, err = store.List(ctx)
		}
		if err != nil {
			fatal("list executions: %v", err)
		}
		printJSON(execs)

	case "show":
		e, err := store.Get(ctx, idArg(args, "execution show"))
		if err != nil {
			fatal("get execution: %v", err)
		}
		printJSON(e)

	default:
		fatal("unknown execution command: %s", args[0])
	}
}

func handleStatus(ctx context.Context, tasks task.Store, execs execution.Store) {
	all, err := tasks.List(ctx)
	if err != nil {
		fatal("list tasks: %v", err)
	}
	subs, err := execs.List(ctx)
	if err != nil {
		fatal("list executions: %v", err)
	}

	byTask := map[task.Status]int{}
	for _, t := range all {
		byTask[t.Status]++
	}
	byExec := map[execution.Status]int{}
	for _, e := range subs {
		byExec[e.Status]++
	}
	printJSON(map[string]any{
		"tasks":      len(all),
		"by_status":  byTask,
		"executions": len(subs),
		"by_review":  byExec,
	})
}

// parseFlags parses --key=value and --flag style args into a map.
func parseFlags(args []string) map[string]string {
	flags := make(map[string]string)
	for _, arg := range args {
		if !strings.HasPrefix(arg, "--") {
			continue
		}
		key, val, _ := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		flags[key] = val
	}
	return flags
}

func intFlag(flags map[string]string, key string, defaultVal int) int {
	if v, ok := flags[key]; ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func idArg(args []string, cmd string) int64 {
	if len(args) < 2 {
		fatal("usage: taskctl %s <id>", cmd)
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || id <= 0 {
		fatal("invalid id %q", args[1])
	}
	return id
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal("encode JSON: %v", err)
	}
}

func truncStr(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}

func printShortEvents(events []audit.Event) {
	for _, e := range events {
		content := ""
		if b, err := json.Marshal(e.Content); err == nil {
			content = string(b)
		}
		fmt.Printf("%-19s  %-6d  %-26s  %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.ActorID, truncStr(e.Type, 26), truncStr(content, 80))
	}
}

func printShortTasks(tasks []task.Task) {
	for _, t := range tasks {
		fmt.Printf("%-6d  %-12s  %-20s  %s\n", t.ID, t.Status, truncStr(t.UserName, 20), truncStr(t.TaskType, 50))
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "taskctl: "+format+"\n", args...)
	os.Exit(1)
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: taskctl <command>

Commands:
  audit      Audit log (list, verify)
  task       Tasks (list, show, set-status)
  execution  Executions (list, show)
  status     Counts by status
  init       Create missing tables`)
}
