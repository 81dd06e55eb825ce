package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/replinet/replinet/internal/config"
	"github.com/replinet/replinet/internal/errors"
	"github.com/replinet/replinet/pkg/snapshot"
)

func inspectCmd(flags *globalFlags) *cobra.Command {
	var (
		list    bool
		asJSON  bool
		store   string
		showRaw bool
	)

	cmd := &cobra.Command{
		Use:   "inspect [snapshot-id]",
		Short: "Read registry checkpoints",
		Long: `Read the registry checkpoints written by 'replinet serve'.

Without an id the newest checkpoint is shown. The store comes from the
[snapshot] section of the config file or --store.`,
		Example: `  replinet inspect --list
  replinet inspect --store sqlite
  replinet inspect 20261018T120000.000000000Z-000042 --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := flags.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("store") {
				cfg.Snapshot.Store = store
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			if cfg.Snapshot.Store == config.StoreNone {
				return errors.New("E202").
					WithDetail("No snapshot store is configured.").
					WithSuggestion("Set [snapshot] store in the config file or pass --store").
					WithExample("[snapshot]\nstore = \"sqlite\"\nsqlite_path = \"replinet.db\"")
			}

			s, err := openStore(cmd.Context(), cfg.Snapshot)
			if err != nil {
				return errors.FromError(err, "E202")
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			if list {
				return listSnapshots(cmd.Context(), out, s, asJSON)
			}
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return showSnapshot(cmd.Context(), out, s, id, asJSON, showRaw)
		},
	}

	cmd.Flags().BoolVarP(&list, "list", "l", false, "List stored checkpoints")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.Flags().StringVar(&store, "store", "", "Checkpoint store: memory, sqlite or s3")
	cmd.Flags().BoolVar(&showRaw, "raw", false, "Include the hex encoded entity state")

	return cmd
}

func listSnapshots(ctx context.Context, w io.Writer, s snapshot.Store, asJSON bool) error {
	infos, err := s.List(ctx)
	if err != nil {
		return errors.FromError(err, "E202")
	}
	if asJSON {
		return encodeJSON(w, infos)
	}
	if len(infos) == 0 {
		fmt.Fprintln(w, "No snapshots stored.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tENTITIES\tSIZE")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", info.ID, info.CreatedAt.Format(time.RFC3339), info.Entities, info.Size)
	}
	return tw.Flush()
}

func showSnapshot(ctx context.Context, w io.Writer, s snapshot.Store, id string, asJSON, raw bool) error {
	var (
		snap *snapshot.Snapshot
		err  error
	)
	if id == "" {
		snap, err = snapshot.Latest(ctx, s)
	} else {
		snap, err = s.Load(ctx, id)
	}
	switch {
	case stderrors.Is(err, snapshot.ErrNotFound):
		e := errors.New("E203").Wrap(err)
		if id != "" {
			e = e.WithDetail(fmt.Sprintf("No snapshot with id %q.", id))
		}
		return e
	case err != nil:
		return errors.FromError(err, "E202")
	}

	if asJSON {
		return encodeJSON(w, snap)
	}

	fmt.Fprintf(w, "Snapshot %s\n", snap.ID)
	fmt.Fprintf(w, "  Created:  %s\n", snap.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  Tick:     %d\n", snap.Tick)
	if snap.Scene != "" {
		fmt.Fprintf(w, "  Scene:    %s\n", snap.Scene)
	}
	fmt.Fprintf(w, "  Entities: %d\n\n", len(snap.Entities))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := "NET ID\tASSET\tOWNER\tPLAYER\tBEHAVIOURS\tSTATE"
	if raw {
		header += "\tRAW"
	}
	fmt.Fprintln(tw, header)
	for _, e := range snap.Entities {
		owner := "host"
		if e.Owner >= 0 {
			owner = fmt.Sprintf("conn %d", e.Owner)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%v\t%d bytes", e.NetID, e.AssetID, owner, e.Player, e.Behaviours, len(e.State))
		if raw {
			fmt.Fprintf(tw, "\t%s", hex.EncodeToString(e.State))
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
