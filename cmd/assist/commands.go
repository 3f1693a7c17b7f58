package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"assist/cmd/identity"
	"assist/cmd/internal/app"
	"assist/cmd/security/password"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP and websocket server (configured through ASSIST_* variables)",
		Action: func(ctx *cli.Context) error {
			return app.Serve(ctx.Context)
		},
	}
}

func hashPasswordCmd() *cli.Command {
	var algorithm string
	return &cli.Command{
		Name:  "hash-password",
		Usage: "Print a digest for the password read from stdin",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "algorithm",
				Usage:       "argon2id or bcrypt",
				Value:       string(password.AlgorithmArgon2id),
				Destination: &algorithm,
			},
		},
		Action: func(ctx *cli.Context) error {
			pw, err := readSecret(os.Stdin)
			if err != nil {
				return err
			}
			cfg := password.DefaultConfig()
			cfg.Algorithm = password.Algorithm(strings.ToLower(algorithm))
			if cfg.Algorithm == password.AlgorithmBcrypt {
				cfg.Policy.MaxLength = 72
			}
			if err := cfg.Check(); err != nil {
				return err
			}
			if err := cfg.Validate(pw); err != nil {
				return err
			}
			digest, err := cfg.Hash(pw)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(ctx.App.Writer, digest)
			return err
		},
	}
}

func setRoleCmd() *cli.Command {
	var id, email, role string
	return &cli.Command{
		Name:  "set-role",
		Usage: "Change an identity's role. Tokens already issued keep the old role until refreshed",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "identity id", Destination: &id},
			&cli.StringFlag{Name: "email", Usage: "identity email (active identities only)", Destination: &email},
			&cli.StringFlag{Name: "role", Usage: "admin, professional or user", Destination: &role, Required: true},
		},
		Action: func(ctx *cli.Context) error {
			return withApp(ctx.Context, func(a *app.App) error {
				subject, err := resolveSubject(ctx.Context, a, id, email)
				if err != nil {
					return err
				}
				p, err := a.Accounts.AssignRole(ctx.Context, subject, role)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(ctx.App.Writer, "%s %s role=%s\n", p.ID, p.Email, p.Role)
				return err
			})
		},
	}
}

func setActiveCmd() *cli.Command {
	var id string
	var active bool
	return &cli.Command{
		Name:  "set-active",
		Usage: "Enable or disable an identity; disabled identities cannot log in or refresh",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "identity id", Destination: &id, Required: true},
			&cli.BoolFlag{Name: "active", Usage: "true to enable, false to disable", Value: true, Destination: &active},
		},
		Action: func(ctx *cli.Context) error {
			return withApp(ctx.Context, func(a *app.App) error {
				if err := a.Accounts.SetActive(ctx.Context, strings.TrimSpace(id), active); err != nil {
					return err
				}
				_, err := fmt.Fprintf(ctx.App.Writer, "%s active=%t\n", id, active)
				return err
			})
		},
	}
}

// withApp builds the App for one-off admin commands. They only make sense against Postgres.
func withApp(ctx context.Context, fn func(*app.App) error) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("ASSIST_DATABASE_URL must be set for admin commands")
	}
	cfg.ProfileCacheTTL = 0

	log := app.NewLogger(cfg.LogLevel, os.Stderr)
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func resolveSubject(ctx context.Context, a *app.App, id, email string) (string, error) {
	id = strings.TrimSpace(id)
	email = strings.TrimSpace(email)
	switch {
	case id != "" && email != "":
		return "", errors.New("use either --id or --email")
	case id != "":
		return id, nil
	case email != "":
		rec, err := a.Store.FindActiveByEmail(ctx, identity.NormalizeEmail(email))
		if err != nil {
			return "", fmt.Errorf("lookup %s: %w", email, err)
		}
		return rec.ID, nil
	default:
		return "", errors.New("--id or --email is required")
	}
}

func readSecret(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", errors.New("missing password on stdin")
	}
	pw := strings.TrimRight(sc.Text(), "\r")
	if pw == "" {
		return "", errors.New("missing password on stdin")
	}
	return pw, nil
}
