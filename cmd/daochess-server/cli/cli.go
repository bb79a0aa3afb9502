package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"

	"daochess/internal/server/storage"
)

// Run is the entry point for the database admin commands
func Run(args []string) error {
	return run(args, os.Stdout)
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("subcommand required: init, delete, query, show")
	}

	switch args[0] {
	case "init":
		return runInit(args[1:], out)
	case "delete":
		return runDelete(args[1:], out)
	case "query":
		return runQuery(args[1:], out)
	case "show":
		return runShow(args[1:], out)
	default:
		return fmt.Errorf("unknown subcommand: %s", args[0])
	}
}

func pathFlag(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs, fs.String("path", "", "Database file path (required)")
}

func runInit(args []string, out io.Writer) error {
	fs, path := pathFlag("init")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("database path required")
	}

	store, err := storage.NewSQLiteStore(*path, false)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer store.Close()

	if err := store.InitDB(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	fmt.Fprintf(out, "Database initialized at: %s\n", *path)
	return nil
}

func runDelete(args []string, out io.Writer) error {
	fs, path := pathFlag("delete")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("database path required")
	}

	store, err := storage.NewSQLiteStore(*path, false)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	if err := store.DeleteDB(); err != nil {
		return fmt.Errorf("failed to delete database: %w", err)
	}

	fmt.Fprintf(out, "Database deleted: %s\n", *path)
	return nil
}

func runQuery(args []string, out io.Writer) error {
	fs, path := pathFlag("query")
	gameID := fs.String("gameId", "", "Game ID to filter (optional, * for all)")
	status := fs.String("status", "", "Status to filter: active or finished (optional, * for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("database path required")
	}

	store, err := storage.NewSQLiteStore(*path, false)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	games, err := store.QueryGames(*gameID, *status)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if len(games) == 0 {
		fmt.Fprintln(out, "No games found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Game ID\tMove\tStatus\tRevision\tUpdated")
	fmt.Fprintln(w, strings.Repeat("-", 72))
	for _, g := range games {
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\n",
			g.GameID,
			g.MoveIndex,
			g.Status,
			g.Revision,
			g.UpdatedAtUTC.Format("2006-01-02 15:04:05"),
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\nFound %d game(s)\n", len(games))
	return nil
}

// runShow prints one full game document
func runShow(args []string, out io.Writer) error {
	fs, path := pathFlag("show")
	gameID := fs.String("gameId", "", "Game ID (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("database path required")
	}
	if _, err := uuid.Parse(*gameID); err != nil {
		return fmt.Errorf("valid game ID required")
	}

	store, err := storage.NewSQLiteStore(*path, false)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	g, err := store.GetGame(context.Background(), *gameID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(g)
}
