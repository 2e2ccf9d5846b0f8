// Command creatorctl manages operator keys and issues bearer tokens for the
// creator market API.
//
//	creatorctl keygen
//	creatorctl encrypt-key -key <hex> -out key.json
//	creatorctl token -keyfile key.json [-config config.toml]
//
// Passwords are read from CREATORCTL_PASSWORD.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alanyoungcy/creatormarket/internal/config"
	"github.com/alanyoungcy/creatormarket/internal/crypto"
)

const passwordEnv = "CREATORCTL_PASSWORD"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "creatorctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: creatorctl <keygen|encrypt-key|token> [flags]")
	}
	switch args[0] {
	case "keygen":
		return keygen(out)
	case "encrypt-key":
		return encryptKey(args[1:], out)
	case "token":
		return token(args[1:], out)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func keygen(out io.Writer) error {
	key, addr, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "address:     %s\nprivate key: %s\n", addr, key)
	return nil
}

func encryptKey(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ContinueOnError)
	key := fs.String("key", "", "hex-encoded private key")
	path := fs.String("out", "", "write the encrypted key here instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		return errors.New("encrypt-key: -key is required")
	}
	data, err := crypto.EncryptKey(*key, os.Getenv(passwordEnv))
	if err != nil {
		return err
	}
	if *path == "" {
		_, err := fmt.Fprintln(out, string(data))
		return err
	}
	return os.WriteFile(*path, data, 0o600)
}

func token(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	key := fs.String("key", "", "hex-encoded private key")
	keyFile := fs.String("keyfile", "", "encrypted key file written by encrypt-key")
	configPath := fs.String("config", "", "read auth.domain and auth.chain_id from this config")
	domainName := fs.String("domain", "", "sign-in domain (overrides the config)")
	chainID := fs.Uint64("chain-id", 0, "chain id (overrides the config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *domainName != "" {
		cfg.Auth.Domain = *domainName
	}
	if *chainID != 0 {
		cfg.Auth.ChainID = *chainID
	}

	pk, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    *key,
		EncryptedKeyPath: *keyFile,
		KeyPassword:      os.Getenv(passwordEnv),
	})
	if err != nil {
		return err
	}
	signer := crypto.NewSigner(pk)
	tok, err := signer.IssueToken(cfg.Auth.Domain, cfg.Auth.ChainID, time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "# %s, valid for %s\n%s\n", signer.Address().Hex(), cfg.Auth.MaxAge.Duration, tok)
	return nil
}
