package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/sznuper/smbdoctor/internal/config"
	"github.com/sznuper/smbdoctor/internal/credential"
	"golang.org/x/term"
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage stored share credentials",
}

var credentialsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Store a credential for use as file://<name>",
	Long: "Prompts for a password and writes a credential file into the credentials directory. " +
		"With --seal the file is encrypted with a passphrase read from --passphrase-env or the terminal.",
	Args: cobra.ExactArgs(1),
	RunE: runCredentialsAdd,
}

var credentialsCheckCmd = &cobra.Command{
	Use:   "check <reference>",
	Short: "Resolve a credential reference without using it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.ResolveOrEmpty(cfgFile)
		if err != nil {
			return err
		}
		applyOptionFlags(cmd, cfg)
		settings, err := cfg.Options.Settings()
		if err != nil {
			return err
		}
		r := credential.NewResolver(settings.CredentialsDir, cfg.CredentialsPassphraseEnv)
		c, err := r.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if c == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "guest")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", styles.pass.Render("✓"), c)
		return nil
	},
}

func init() {
	f := credentialsAddCmd.Flags()
	f.String("username", "", "account name (prompted when empty)")
	f.String("domain", "", "account domain")
	f.Bool("seal", false, "encrypt the credential file")
	f.String("passphrase-env", "", "environment variable holding the sealing passphrase")
	f.Bool("force", false, "overwrite an existing credential")

	credentialsCmd.AddCommand(credentialsAddCmd, credentialsCheckCmd)
	rootCmd.AddCommand(credentialsCmd)
}

func runCredentialsAdd(cmd *cobra.Command, args []string) error {
	name := args[0]
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid credential name %q", name)
	}
	flags := cmd.Flags()
	username, _ := flags.GetString("username")
	domain, _ := flags.GetString("domain")
	seal, _ := flags.GetBool("seal")
	passphraseEnv, _ := flags.GetString("passphrase-env")
	force, _ := flags.GetBool("force")

	cfg, err := config.ResolveOrEmpty(cfgFile)
	if err != nil {
		return err
	}
	applyOptionFlags(cmd, cfg)
	settings, err := cfg.Options.Settings()
	if err != nil {
		return err
	}
	if passphraseEnv == "" {
		passphraseEnv = cfg.CredentialsPassphraseEnv
	}

	in := bufio.NewReader(os.Stdin)
	errOut := cmd.ErrOrStderr()
	if username == "" {
		if username, err = readLine(in, errOut, "Username: "); err != nil {
			return err
		}
		if username == "" {
			return errors.New("a username is required")
		}
	}
	password, err := readSecret(in, errOut, "Password: ")
	if err != nil {
		return err
	}

	c := credential.Credential{Username: username, Password: password, Domain: domain}
	data := []byte(credential.Format(c))
	if seal {
		passphrase, err := sealingPassphrase(in, errOut, passphraseEnv)
		if err != nil {
			return err
		}
		if data, err = credential.Seal(c, passphrase); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(settings.CredentialsDir, 0o700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}
	path := filepath.Join(settings.CredentialsDir, name)
	mode := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		mode = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, mode, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("credential %s already exists (use --force to replace it)", name)
		}
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	// O_TRUNC keeps the old mode
	if err := os.Chmod(path, 0o600); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s stored %s as file://%s\n", styles.pass.Render("✓"), c, name)
	return nil
}

func sealingPassphrase(in *bufio.Reader, out io.Writer, env string) (string, error) {
	if env != "" {
		if v, ok := os.LookupEnv(env); ok {
			return v, nil
		}
	}
	first, err := readSecret(in, out, "Passphrase: ")
	if err != nil {
		return "", err
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		again, err := readSecret(in, out, "Repeat passphrase: ")
		if err != nil {
			return "", err
		}
		if again != first {
			return "", errors.New("passphrases do not match")
		}
	}
	return first, nil
}

func readLine(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	return strings.TrimSpace(line), nil
}

// readSecret reads without echo from a terminal, or a plain line from a
// pipe.
func readSecret(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return readLine(in, io.Discard, label)
	}
	fmt.Fprint(out, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return string(b), nil
}
