package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/NOVAInetwork/NOVAI-node/internal/storage"
	"github.com/NOVAInetwork/NOVAI-node/internal/types"
)

func rosterCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Inspects and edits the validator roster",
	}
	cmd.PersistentFlags().StringVarP(&file, "file", "f", storage.DefaultRosterFile, "path to the roster file")

	list := &cobra.Command{
		Use:   "list",
		Short: "Lists validators in ID order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			roster, err := storage.NewFileRoster(file)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPUBLIC KEY\tPEER ID\tADDRESSES")
			for _, v := range roster.GetValidators() {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", v.ID, v.PublicKey, v.PeerID, strings.Join(v.Addresses, ","))
			}
			return w.Flush()
		},
	}

	var entry types.ValidatorEntry
	add := &cobra.Command{
		Use:   "add",
		Short: "Appends a validator with the next free ID",
		RunE: func(cmd *cobra.Command, _ []string) error {
			roster, err := storage.NewFileRoster(file)
			if err != nil {
				return err
			}
			if err := roster.AddValidator(entry); err != nil {
				return err
			}
			added := roster.GetValidators()
			fmt.Fprintf(cmd.OutOrStdout(), "added validator %d\n", added[len(added)-1].ID)
			return nil
		},
	}
	add.Flags().StringVar(&entry.PublicKey, "public-key", "", "base64 consensus public key")
	add.Flags().StringVar(&entry.PeerID, "peer-id", "", "libp2p peer ID, derived from an ed25519 key when omitted")
	add.Flags().StringSliceVar(&entry.Addresses, "address", nil, "multiaddr the validator listens on (repeatable)")
	_ = add.MarkFlagRequired("public-key")

	var id uint16
	remove := &cobra.Command{
		Use:   "remove",
		Short: "Removes a validator; higher IDs shift down",
		RunE: func(cmd *cobra.Command, _ []string) error {
			roster, err := storage.NewFileRoster(file)
			if err != nil {
				return err
			}
			if err := roster.RemoveValidator(id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed validator %d\n", id)
			return nil
		},
	}
	remove.Flags().Uint16Var(&id, "id", 0, "validator ID")
	_ = remove.MarkFlagRequired("id")

	cmd.AddCommand(list, add, remove)
	return cmd
}
