package cmd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"voting-ledger/ledger"
	"voting-ledger/models"
	"voting-ledger/storage"
)

var verifySnapshotCmd = &cobra.Command{
	Use:   "verify-snapshot [file]",
	Short: "Audit an exported ledger snapshot offline",
	Long: `Audit a snapshot file, or with --election the newest snapshot of that
election in the configured snapshot directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deep, _ := cmd.Flags().GetBool("deep")
		electionID, _ := cmd.Flags().GetString("election")

		var (
			snap *storage.LedgerSnapshot
			err  error
		)
		switch {
		case len(args) == 1 && electionID == "":
			snap, err = storage.LoadSnapshot(args[0])
		case len(args) == 0 && electionID != "":
			cfg, cerr := loadConfig()
			if cerr != nil {
				return cerr
			}
			snap, err = latestSnapshot(cfg.Store.SnapshotDir, electionID)
		default:
			return errors.Wrap(models.ErrInvalidArgument, "pass a snapshot file or --election, not both")
		}
		if err != nil {
			return err
		}
		return verifySnapshot(cmd, snap, deep)
	},
}

func init() {
	rootCmd.AddCommand(verifySnapshotCmd)
	verifySnapshotCmd.Flags().Bool("deep", false, "Also check every block against the leaves it covers")
	verifySnapshotCmd.Flags().String("election", "", "Audit the newest snapshot of this election")
}

func latestSnapshot(dir, electionID string) (*storage.LedgerSnapshot, error) {
	store, err := storage.NewSnapshotStore(dir, 0)
	if err != nil {
		return nil, err
	}
	snap, err := store.LoadLatest(electionID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, errors.Wrapf(models.ErrNotFound, "no snapshot of election %s in %s", electionID, dir)
	}
	return snap, nil
}

func verifySnapshot(cmd *cobra.Command, snap *storage.LedgerSnapshot, deep bool) error {
	report, err := ledger.Audit(snap.ElectionID, snap.Leaves, snap.Blocks, snap.MerkleRoot, deep)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "election:      %s (%s)\n", snap.ElectionID, snap.ElectionName)
	fmt.Fprintf(out, "exported at:   %s\n", snap.ExportedAt)
	fmt.Fprintf(out, "leaves/blocks: %d/%d\n", report.LeafCount, report.BlockCount)
	fmt.Fprintf(out, "stored root:   %s\n", report.StoredRoot)
	fmt.Fprintf(out, "computed root: %s\n", report.ComputedRoot)
	for _, p := range report.Problems {
		fmt.Fprintf(out, "problem:       %s\n", p)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "ledger valid")
	return nil
}
