// Command messaging publishes and schedules messages, inspects the developer event log and serves the
// inbox HTTP API. Backends come from the messaging config (MESSAGING_CONFIG_FILE, MESSAGING_TRANSPORT, ...).
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
)

type command struct {
	description string
	run         func(ctx context.Context, env *environment, args []string) error
}

var commands = map[string]command{
	"publish":  {"Publish a JSON payload to a topic.", runPublish},
	"schedule": {"Schedule a task run (delay queue).", runSchedule},
	"tail":     {"Print recent events from the local event log.", runTail},
	"due":      {"List scheduled jobs that are due now.", runDue},
	"serve":    {"Serve the inbox HTTP API.", runServe},
}

// environment carries process-wide collaborators so commands stay testable.
type environment struct {
	stdout io.Writer
	stderr io.Writer
	lookup func(string) (string, bool)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, &environment{stdout: os.Stdout, stderr: os.Stderr, lookup: os.LookupEnv}, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, env *environment, args []string) int {
	name := "help"
	if len(args) > 0 {
		name = args[0]
	}
	cmd, ok := commands[name]
	if !ok {
		printHelp(env.stdout)
		if name == "help" {
			return 0
		}

		return 1
	}

	if err := cmd.run(ctx, env, args[1:]); err != nil {
		fmt.Fprintln(env.stderr, err)

		return 1
	}

	return 0
}

func printHelp(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "Available commands:")
	for _, name := range names {
		fmt.Fprintf(w, "  %s - %s\n", name, commands[name].description)
	}
}
