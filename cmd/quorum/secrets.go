package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/store"
	"github.com/mtzanidakis/quorum/internal/vault"
)

func runSecrets(args []string) error {
	if len(args) < 1 {
		printSecretsUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Vault.Passphrase == "" {
		return fmt.Errorf("QUORUM_VAULT_PASSPHRASE environment variable is required")
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	v := vault.New(cfg.Vault.Passphrase)

	switch args[0] {
	case "list":
		return listSecrets(db)
	case "set":
		if len(args) != 3 {
			return fmt.Errorf("usage: quorum secrets set <name> <value>")
		}
		return setSecret(db, v, args[1], args[2])
	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: quorum secrets get <name>")
		}
		return getSecret(db, v, args[1])
	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("usage: quorum secrets delete <name>")
		}
		return db.DeleteSecret(args[1])
	default:
		printSecretsUsage()
		os.Exit(1)
		return nil
	}
}

func printSecretsUsage() {
	fmt.Fprintf(os.Stderr, `Usage: quorum secrets <subcommand>

Subcommands:
  list                 List stored secret names
  set <name> <value>   Encrypt and store a secret
  get <name>           Decrypt and print a secret
  delete <name>        Remove a secret

Requires QUORUM_VAULT_PASSPHRASE to be set.
`)
}

func listSecrets(db *store.Store) error {
	secrets, err := db.ListSecrets()
	if err != nil {
		return fmt.Errorf("list secrets: %w", err)
	}
	if len(secrets) == 0 {
		fmt.Println("no secrets stored")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCREATED\tUPDATED")
	for _, s := range secrets {
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			s.Name,
			s.CreatedAt.Format("2006-01-02 15:04"),
			s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func setSecret(db *store.Store, v *vault.Vault, name, value string) error {
	ciphertext, nonce, err := v.Seal([]byte(value))
	if err != nil {
		return fmt.Errorf("encrypt secret: %w", err)
	}
	if err := db.SaveSecret(&store.Secret{Name: name, Value: ciphertext, Nonce: nonce}); err != nil {
		return fmt.Errorf("store secret: %w", err)
	}
	fmt.Printf("secret %q stored\n", name)
	return nil
}

func getSecret(db *store.Store, v *vault.Vault, name string) error {
	sec, err := db.GetSecret(name)
	if err != nil {
		return fmt.Errorf("load secret: %w", err)
	}
	if sec == nil {
		return fmt.Errorf("secret %q not found", name)
	}
	plaintext, err := v.Open(sec.Value, sec.Nonce)
	if err != nil {
		return fmt.Errorf("decrypt secret: %w", err)
	}
	fmt.Println(string(plaintext))
	return nil
}
