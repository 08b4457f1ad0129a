// Command registry-admin performs the registry's administrative operations
// that are deliberately not exposed over HTTP: creating password accounts,
// issuing API tokens against them, and transferring package ownership.
// This mirrors the teacher's split between cmd/api-gateway (HTTP) and its
// own operational entrypoints for everything that isn't a public request.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/worldcache/registry/internal/accounts"
	"github.com/worldcache/registry/internal/store"
	"github.com/worldcache/registry/pkg/config"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg := config.LoadFromEnv()
	db, err := store.Open(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	svc := accounts.New(db, &cfg.Auth)
	ctx := context.Background()

	switch os.Args[1] {
	case "create-account":
		runCreateAccount(ctx, svc, os.Args[2:])
	case "issue-token":
		runIssueToken(ctx, svc, os.Args[2:])
	case "transfer-ownership":
		runTransferOwnership(ctx, db, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: registry-admin <command> [flags]")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  create-account -username U -password P")
	fmt.Fprintln(os.Stderr, "  issue-token -username U -password P -name N [-ttl 720h]")
	fmt.Fprintln(os.Stderr, "  transfer-ownership -package NAME -new-owner PRINCIPAL")
}

func runCreateAccount(ctx context.Context, svc *accounts.Service, args []string) {
	fs := flag.NewFlagSet("create-account", flag.ExitOnError)
	username := fs.String("username", "", "account username")
	password := fs.String("password", "", "account password")
	fs.Parse(args)

	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "both -username and -password are required")
		os.Exit(1)
	}

	acct, err := svc.Register(ctx, *username, *password)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create account")
	}
	fmt.Printf("created account %q bound to principal %q\n", acct.Username, acct.PrincipalID)
}

func runIssueToken(ctx context.Context, svc *accounts.Service, args []string) {
	fs := flag.NewFlagSet("issue-token", flag.ExitOnError)
	username := fs.String("username", "", "account username")
	password := fs.String("password", "", "account password")
	name := fs.String("name", "cli-issued", "token label")
	ttl := fs.Duration("ttl", 0, "token lifetime, 0 for no expiry")
	fs.Parse(args)

	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "both -username and -password are required")
		os.Exit(1)
	}

	token, rec, err := svc.IssueToken(ctx, *username, *password, *name, *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to issue token")
	}
	fmt.Printf("issued token for principal %q: %s\n", rec.PrincipalID, token)
	if rec.ExpiresAt != nil {
		fmt.Printf("expires at %s\n", rec.ExpiresAt.Format(time.RFC3339))
	}
}

func runTransferOwnership(ctx context.Context, db *store.Store, args []string) {
	fs := flag.NewFlagSet("transfer-ownership", flag.ExitOnError)
	pkg := fs.String("package", "", "package name")
	newOwner := fs.String("new-owner", "", "new owner principal ID")
	fs.Parse(args)

	if *pkg == "" || *newOwner == "" {
		fmt.Fprintln(os.Stderr, "both -package and -new-owner are required")
		os.Exit(1)
	}

	if err := db.TransferOwnership(ctx, *pkg, *newOwner); err != nil {
		log.Fatal().Err(err).Msg("failed to transfer ownership")
	}
	fmt.Printf("transferred %q to %q\n", *pkg, *newOwner)
}
