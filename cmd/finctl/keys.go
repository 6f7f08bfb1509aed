package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"finerp/crypto"
)

func (a *app) loadKey() (*crypto.PrivateKey, error) {
	path := a.v.GetString("keystore")
	pass, err := a.passphrase()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("unable to decrypt keystore %s: %w", path, err)
	}
	return key, nil
}

func (a *app) keygenCmd() *cobra.Command {
	var force, light bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing key and store it in the keystore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.v.GetString("keystore")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("keystore %s already exists; pass --force to replace it", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			pass, err := a.passphrase()
			if err != nil {
				return err
			}
			key, err := crypto.GeneratePrivateKey()
			if err != nil {
				return err
			}
			params := crypto.StandardScrypt
			if light {
				params = crypto.LightScrypt
			}
			if err := crypto.SaveToKeystore(path, key, pass, params); err != nil {
				return err
			}
			fmt.Fprintln(a.out, key.PubKey().Address().String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing keystore")
	cmd.Flags().BoolVar(&light, "light", false, "use light scrypt parameters (development only)")
	return cmd
}

func (a *app) addressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the address of the keystore key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.loadKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, key.PubKey().Address().String())
			return nil
		},
	}
}
