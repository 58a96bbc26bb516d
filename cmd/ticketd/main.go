// ABOUTME: Entry point for the ticketd authentication service
// ABOUTME: Subcommands serve HTTP, write a starter config, and manage users and groups

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/ticketd/internal/config"
	"github.com/2389/ticketd/internal/server"
	"github.com/2389/ticketd/internal/store"
)

// Version is set at build time.
var version = "dev"

const banner = `
  _   _      _        _      _
 | |_(_) ___| | _____| |_ __| |
 | __| |/ __| |/ / _ \ __/ _' |
 | |_| | (__|   <  __/ || (_| |
  \__|_|\___|_|\_\___|\__\__,_|
`

func usage() {
	fmt.Println("Usage: ticketd <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                                  Start the HTTP server")
	fmt.Println("  init [--path FILE]                     Write a config file with fresh secrets")
	fmt.Println("  bootstrap --username U [--password P]  Create a user with a password")
	fmt.Println("            [--authority A] [--display-name D]")
	fmt.Println("  password --username U [--password P]   Change a password and revoke tickets")
	fmt.Println("           [--authority A]")
	fmt.Println("  delete --username U [--authority A]    Delete a user and revoke tickets")
	fmt.Println("  add-group --user USERID --name NAME    Create a group and add a member")
	fmt.Println("            [--pubid ID]")
	fmt.Println("  health                                 Check server health")
	fmt.Println("  version                                Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(args)
	case "bootstrap":
		err = runBootstrap(ctx, args)
	case "password":
		err = runPassword(ctx, args)
	case "delete":
		err = runDelete(ctx, args)
	case "add-group":
		err = runAddGroup(ctx, args)
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Tickets:   %s", cfg.Tickets.Backend)
	gray.Printf(" (ttl %s)\n", cfg.Tickets.TTL)
	if cfg.Session.Enabled {
		green.Print("    ▶ ")
		fmt.Println("Sessions:  enabled")
	}
	if cfg.Bearer.Enabled {
		green.Print("    ▶ ")
		fmt.Print("Bearer:    enabled")
		yellow.Println(" [/api/token]")
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}
	fmt.Println()

	logger.Info("starting ticketd",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"tickets_backend", cfg.Tickets.Backend,
	)

	srv, err := server.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	return srv.Run(ctx)
}

// getDataPath returns the ticketd data directory.
// Priority: XDG_DATA_HOME/ticketd > ~/.local/share/ticketd
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "ticketd")
}

func runInit(args []string) error {
	flags, err := parseFlags(args, "path")
	if err != nil {
		return err
	}

	configPath := flags["path"]
	if configPath == "" {
		configPath = config.DefaultPath()
	}
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	cookieSecret, err := randomSecret()
	if err != nil {
		return fmt.Errorf("generating cookie secret: %w", err)
	}
	bearerSecret, err := randomSecret()
	if err != nil {
		return fmt.Errorf("generating bearer secret: %w", err)
	}

	dataPath := getDataPath()
	content := renderConfig(filepath.Join(dataPath, "ticketd.db"), cookieSecret, bearerSecret)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", configPath)
	fmt.Println()
	fmt.Println("  Next:")
	fmt.Println("    ticketd bootstrap --username admin   # create a user")
	fmt.Println("    ticketd serve                        # start the server")
	return nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// renderConfig returns a starter YAML config.
func renderConfig(dbPath, cookieSecret, bearerSecret string) string {
	return fmt.Sprintf(`# ticketd configuration
# Generated by ticketd init

server:
  http_addr: "localhost:8080"

database:
  path: "%s"

tickets:
  backend: "sqlite"
  ttl: "168h"
  refresh_interval: "1m"

cookie:
  secret: "%s"
  secure: false

session:
  enabled: true

bearer:
  enabled: false
  secret: "%s"

logging:
  level: "info"
  format: "text"

metrics:
  enabled: false
  path: "/metrics"
`, dbPath, cookieSecret, bearerSecret)
}

func openStore() (*store.SQLiteStore, error) {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	s, err := store.NewSQLiteStore(config.DatabasePath(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

func runBootstrap(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, "username", "password", "authority", "display-name")
	if err != nil {
		return err
	}

	username := strings.TrimSpace(flags["username"])
	if username == "" {
		return fmt.Errorf("--username flag is required")
	}
	if strings.ContainsAny(username, "@:") {
		return fmt.Errorf("username must not contain '@' or ':'")
	}

	password := flags["password"]
	if password == "" {
		password = os.Getenv("TICKETD_PASSWORD")
	}
	if password == "" {
		password = prompt(bufio.NewReader(os.Stdin), "Password")
	}
	if password == "" {
		return fmt.Errorf("password is required (--password, TICKETD_PASSWORD, or stdin)")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	user := &store.User{
		Username:     username,
		Authority:    flags["authority"],
		DisplayName:  flags["display-name"],
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			return fmt.Errorf("user %q already exists", username)
		}
		return fmt.Errorf("creating user: %w", err)
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	green.Println("  ✓ Created user")
	cyan.Println("  ------------")
	fmt.Printf("  UserID:       %s\n", user.UserID)
	fmt.Printf("  Display Name: %s\n", user.DisplayName)
	return nil
}

func runAddGroup(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, "user", "name", "pubid")
	if err != nil {
		return err
	}
	if flags["user"] == "" || flags["name"] == "" {
		return fmt.Errorf("--user and --name flags are required")
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	group := &store.Group{
		PubID:     flags["pubid"],
		Name:      flags["name"],
		CreatedAt: time.Now().UTC(),
	}
	if group.PubID == "" {
		group.PubID = uuid.New().String()
	}

	if err := s.CreateGroup(ctx, group); err != nil {
		return fmt.Errorf("creating group: %w", err)
	}
	if err := s.AddGroupMember(ctx, group.PubID, flags["user"]); err != nil {
		return fmt.Errorf("adding member: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Added %s to %s\n", flags["user"], group.Name)
	fmt.Printf("  Principal: group:%s\n", group.PubID)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func prompt(reader *bufio.Reader, question string) string {
	fmt.Printf("%s: ", question)
	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return strings.TrimSpace(input)
	}
	return strings.TrimSpace(input)
}
