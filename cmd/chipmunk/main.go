// Command chipmunk is a client for a running chipmunkd server. With a
// subcommand it performs a single operation and exits; with no subcommand
// and an interactive terminal it drops into a REPL.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jdockerty/chipmunk/client"
	"github.com/jdockerty/chipmunk/lsm"
)

var (
	addr    string
	dataDir string
)

func main() {
	root := &cobra.Command{
		Use:   "chipmunk",
		Short: "Interact with a chipmunk store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isTTY(os.Stdin) {
				return cmd.Help()
			}
			return runREPL(client.New(addr))
		},
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://127.0.0.1:5000", "chipmunkd base URL")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "data directory, for the offline scan subcommand")

	root.AddCommand(getCmd(), putCmd(), deleteCmd(), scanCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Fetch a value by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(addr)
			value, found, err := c.Get(context.Background(), []byte(args[0]))
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("key %q not found", args[0])
			}
			fmt.Println(string(value))
			return nil
		},
	}
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Insert or update a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(addr)
			return c.Put(context.Background(), []byte(args[0]), []byte(args[1]))
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(addr)
			return c.Delete(context.Background(), []byte(args[0]))
		},
	}
}

// scanCmd is an offline, operational tool: it opens the data directory
// directly rather than going through the HTTP façade, since Scan is not
// part of the three-verb wire contract (spec.md §3.9).
func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan [start] [end]",
		Short: "Dump a key range directly from the data directory (offline, operational use only)",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var start, end []byte
			if len(args) > 0 {
				start = []byte(args[0])
			}
			if len(args) > 1 {
				end = []byte(args[1])
			}

			walID, memtableID, err := lsm.ResolveStartingIDs(dataDir)
			if err != nil {
				return fmt.Errorf("resolving starting ids: %w", err)
			}
			cfg := lsm.DefaultConfig(dataDir)
			cfg.Wal.ID = walID
			cfg.Memtable.ID = memtableID

			engine, err := lsm.New(cfg, zap.NewNop(), nil)
			if err != nil {
				return fmt.Errorf("opening data directory: %w", err)
			}
			defer engine.Close()

			if walID != 0 || memtableID != 0 {
				if err := engine.Restore(); err != nil {
					return fmt.Errorf("restoring prior state: %w", err)
				}
			}

			it, err := engine.Scan(start, end)
			if err != nil {
				return fmt.Errorf("scanning: %w", err)
			}
			for it.Next() {
				fmt.Printf("%s=%s\n", it.Key(), it.Value())
			}
			return it.Err()
		},
	}
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// runREPL drives an interactive shell over the HTTP client using
// peterh/liner for line editing and history.
func runREPL(c *client.Client) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Println("chipmunk shell. Commands: get <key> | put <key> <value> | delete <key> | quit")

	for {
		input, err := line.Prompt("chipmunk> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return nil
			}
			return err
		}
		line.AppendHistory(input)

		if err := dispatchREPLLine(c, input); err != nil {
			if err == errQuit {
				return nil
			}
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}

var errQuit = fmt.Errorf("quit")

func dispatchREPLLine(c *client.Client, input string) error {
	var cmd, rest string
	fmt.Sscanf(input, "%s", &cmd)
	rest = trimCommand(input, cmd)

	switch cmd {
	case "quit", "exit":
		return errQuit
	case "get":
		value, found, err := c.Get(context.Background(), []byte(rest))
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("(not found)")
			return nil
		}
		fmt.Println(string(value))
		return nil
	case "put":
		key, value, ok := cutSpace(rest)
		if !ok {
			return fmt.Errorf("usage: put <key> <value>")
		}
		return c.Put(context.Background(), []byte(key), []byte(value))
	case "delete":
		return c.Delete(context.Background(), []byte(rest))
	case "":
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func trimCommand(input, cmd string) string {
	rest := input[len(cmd):]
	for len(rest) > 0 && rest[0] == ' ' {
		rest = rest[1:]
	}
	return rest
}

func cutSpace(s string) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}
