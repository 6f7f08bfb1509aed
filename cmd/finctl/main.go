package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"finerp/cmd/internal/passphrase"
)

const passphraseEnv = "FINCTL_PASSPHRASE"

// app carries the settings shared by every command. Values resolve from
// flags, then FINCTL_* environment variables, then the config file.
type app struct {
	v          *viper.Viper
	out        io.Writer
	passphrase func() (string, error)
}

func main() {
	root := newRootCmd(os.Stdout)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func defaultKeystorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "finctl-key.json"
	}
	return filepath.Join(home, ".finctl", "key.json")
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{
		v:          viper.New(),
		out:        out,
		passphrase: passphrase.NewSource(passphraseEnv, "keystore passphrase").Get,
	}
	var configFile string

	root := &cobra.Command{
		Use:           "finctl",
		Short:         "Operate a FinERP settlement node",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig(configFile)
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default $HOME/.finctl/config.yaml)")
	flags.String("rpc", "http://127.0.0.1:8545", "node JSON-RPC endpoint")
	flags.String("keystore", defaultKeystorePath(), "keystore file holding the signing key")
	flags.String("jwt", "", "bearer token for dev_* methods")
	flags.Bool("json", false, "output JSON")
	for _, name := range []string{"rpc", "keystore", "jwt", "json"} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}
	a.v.SetEnvPrefix("FINCTL")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		a.keygenCmd(),
		a.addressCmd(),
		a.sendCmd(),
		a.transferCmd(),
		a.callCmd(),
		a.balanceCmd(),
		a.contractsCmd(),
		a.projectCmd(),
		a.multisigCmd(),
		a.receiptCmd(),
		a.advanceTimeCmd(),
	)
	return root
}

func (a *app) loadConfig(path string) error {
	if path != "" {
		a.v.SetConfigFile(path)
		return a.v.ReadInConfig()
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	a.v.SetConfigName("config")
	a.v.SetConfigType("yaml")
	a.v.AddConfigPath(filepath.Join(home, ".finctl"))
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

func (a *app) client() *client {
	return newClient(a.v.GetString("rpc"), a.v.GetString("jwt"))
}

func (a *app) jsonOutput() bool { return a.v.GetBool("json") }
