package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/inbox/internal/auth"
	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/logging"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/profile"
	"github.com/matheus3301/inbox/internal/server"
	"github.com/matheus3301/inbox/internal/store"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	addr := pflag.String("addr", ":9000", "listen address")
	dbPath := pflag.String("db", "", "SQLite database path (default: ~/.inbox/server.db)")
	secret := pflag.String("jwt-secret", os.Getenv("INBOX_JWT_SECRET"), "HS256 secret; empty disables authentication")
	reset := pflag.Bool("reset", false, "drop all data before serving")
	pingInterval := pflag.Duration("ping-interval", 25*time.Second, "push socket ping interval")
	email := pflag.String("email", "", "user email (adduser, token)")
	name := pflag.String("name", "", "user name (adduser, token)")
	ttl := pflag.Duration("ttl", 0, "token lifetime, 0 never expires (token)")
	pflag.Usage = printUsage
	pflag.Parse()

	cmd := "serve"
	if pflag.NArg() > 0 {
		cmd = pflag.Arg(0)
	}

	var err error
	switch cmd {
	case "serve":
		err = serve(*addr, dbFile(*dbPath), []byte(*secret), *reset, *pingInterval)
	case "adduser":
		err = addUser(dbFile(*dbPath), model.User{Email: *email, Name: *name})
	case "token":
		err = issueToken([]byte(*secret), model.User{Email: *email, Name: *name}, *ttl)
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: inbox-server [flags] [serve|adduser|token]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  serve      Serve the REST and push endpoints (default)")
	fmt.Fprintln(os.Stderr, "  adduser    Register --email with --name")
	fmt.Fprintln(os.Stderr, "  token      Print a bearer token for --email signed with --jwt-secret")
	fmt.Fprintln(os.Stderr, "")
	pflag.PrintDefaults()
}

func dbFile(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return profile.ServerDBPath()
}

func openDB(path string, reset bool) (*store.DB, error) {
	if err := os.MkdirAll(profile.BaseDir(), 0700); err != nil {
		return nil, err
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	if reset {
		_, err = db.Reset()
	} else {
		_, err = db.Migrate()
	}
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func serve(addr, dbPath string, secret []byte, reset bool, pingInterval time.Duration) error {
	logger, err := logging.Build(logging.Options{
		Level:  zapcore.InfoLevel,
		Fields: []zap.Field{zap.String("component", "inbox-server")},
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	db, err := openDB(dbPath, reset)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	logger.Info("store ready", zap.String("path", dbPath))
	if len(secret) == 0 {
		logger.Warn("authentication disabled")
	}

	srv := server.New(db, bus.New(), server.Options{
		Addr:         addr,
		JWTSecret:    secret,
		PingInterval: pingInterval,
		Logger:       logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-sigCh:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}

func addUser(dbPath string, u model.User) error {
	if u.Email == "" {
		return fmt.Errorf("--email is required")
	}
	db, err := openDB(dbPath, false)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	created, err := db.CreateUser(u)
	if err != nil {
		return err
	}
	fmt.Printf("user %d: %s <%s>\n", created.ID, created.Name, created.Email)
	return nil
}

func issueToken(secret []byte, u model.User, ttl time.Duration) error {
	if u.Email == "" {
		return fmt.Errorf("--email is required")
	}
	if len(secret) == 0 {
		return fmt.Errorf("--jwt-secret or INBOX_JWT_SECRET is required")
	}
	token, err := auth.Issue(secret, u, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
