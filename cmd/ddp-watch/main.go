package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pfrederiksen/ddp-go/ddp"
	"github.com/pfrederiksen/ddp-go/internal/config"
	"github.com/pfrederiksen/ddp-go/keystore"
	"golang.org/x/term"
)

// Version information - set by GoReleaser via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func printVersion(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "ddp-watch version %s\n", version); err != nil {
		return err
	}
	if commit != "none" {
		if _, err := fmt.Fprintf(w, "  commit: %s\n", commit); err != nil {
			return err
		}
	}
	if date != "unknown" {
		if _, err := fmt.Fprintf(w, "  built:  %s\n", date); err != nil {
			return err
		}
	}
	return nil
}

func run(args []string) int {
	if len(args) > 1 && args[1] == "version" {
		if err := printVersion(os.Stdout); err != nil {
			return 1
		}
		return 0
	}

	fs := flag.NewFlagSet("ddp-watch", flag.ExitOnError)
	endpoint := fs.String("endpoint", "", "DDP endpoint (ws(s)://host/websocket)")
	username := fs.String("username", "", "Username for authentication")
	email := fs.String("email", "", "Email for authentication")
	password := fs.String("password", "", "Password (will prompt if not provided)")
	collectionName := fs.String("collection", "", "Collection to subscribe to and watch")
	subscription := fs.String("subscription", "", "Publication name to subscribe to (default: collection name)")
	dbPath := fs.String("db", "", "Keystore database path (default: ~/.local/share/ddp-go/state.db)")
	versionFlag := fs.Bool("version", false, "Print version and exit")

	if err := fs.Parse(args[1:]); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	if *versionFlag {
		if err := printVersion(os.Stdout); err != nil {
			return 1
		}
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}
	if *endpoint != "" {
		cfg.Endpoint = *endpoint
	}
	if *username != "" {
		cfg.Username = *username
	}
	if *email != "" {
		cfg.Email = *email
	}
	if *password != "" {
		cfg.Password = *password
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if cfg.Endpoint == "" {
		_, _ = fmt.Fprintln(os.Stderr, "Error: -endpoint is required (or DDP_ENDPOINT)")
		return 1
	}
	if *collectionName == "" {
		_, _ = fmt.Fprintln(os.Stderr, "Error: -collection is required")
		return 1
	}
	if *subscription == "" {
		*subscription = *collectionName
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0750); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error creating database directory: %v\n", err)
		return 1
	}

	store, err := keystore.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to open keystore: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	client, err := ddp.NewClient(cfg.Endpoint, store, false,
		ddp.WithAutoReconnect(cfg.AutoReconnect),
		ddp.WithReconnectInterval(cfg.ReconnectInterval),
		ddp.WithIsPrivate(cfg.IsPrivate),
	)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to build client: %v\n", err)
		return 1
	}

	if err := promptCredentials(cfg); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error reading credentials: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := newModel(client, cfg, *collectionName, *subscription, cancel)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if err := client.Connect(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		return 1
	}

	if _, err := p.Run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		return 1
	}

	return 0
}

// promptCredentials fills in cfg.Username/Email and cfg.Password from stdin
// when not already supplied by flag, env, or config file.
func promptCredentials(cfg *config.Config) error {
	if cfg.Username == "" && cfg.Email == "" {
		fmt.Print("Username or email: ")
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Scan()
		cfg.Username = strings.TrimSpace(scanner.Text())
	}

	if cfg.Password == "" {
		fmt.Print("Password: ")
		passBytes, err := term.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		cfg.Password = string(passBytes)
	}

	return nil
}

func main() {
	exitCode := run(os.Args)
	os.Exit(exitCode)
}
