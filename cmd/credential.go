package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"soraq/provider"
	"soraq/state"
)

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage the locally stored API key",
}

var credentialSetCmd = &cobra.Command{
	Use:   "set <api-key>",
	Short: "Store the API key used by the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := provider.ValidateCredential(args[0]); err != nil {
			return err
		}
		st, err := state.Open(cfg.StateFile)
		if err != nil {
			return err
		}
		if err := st.SetCredential(args[0]); err != nil {
			return err
		}
		fmt.Println("API key saved to", st.Path())
		return nil
	},
}

var credentialClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := state.Open(cfg.StateFile)
		if err != nil {
			return err
		}
		if err := st.ClearCredential(); err != nil {
			return err
		}
		fmt.Println("API key cleared")
		return nil
	},
}

func init() {
	credentialCmd.AddCommand(credentialSetCmd, credentialClearCmd)
	rootCmd.AddCommand(credentialCmd)
}
