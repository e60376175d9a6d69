package cmd

import (
	"context"
	"database/sql"
	"sort"
	"strconv"

	"github.com/fatih/color"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
	"github.com/strata-tsdb/strata/rescuemap"
	"github.com/strata-tsdb/strata/sample"
	"golang.org/x/exp/maps"
)

/*
Inspection commands for a rescue-point database. The rescuemap is the only
way back into the extents in the block store, so being able to eyeball it
matters when debugging a damaged deployment.
*/

////////////////////////////////////////////////////////////////////////////////

var rescueDBPath string

var rescueCmd = &cobra.Command{
	Use:   "rescue",
	Short: "Inspect a rescue-point database",
}

var rescueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List series and their rescue-point counts",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		rm := openRescuemap()
		mapping, err := rm.GetAll(ctx)
		checkErr(err)
		ids := maps.Keys(mapping)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		header := color.New(color.FgCyan, color.Bold)
		header.Printf("%-20s %s\n", "series", "extents")
		for _, id := range ids {
			cmd.Printf("%-20d %d\n", id, len(mapping[id]))
		}
	},
}

var rescueShowCmd = &cobra.Command{
	Use:   "show [series id]",
	Short: "Show the rescue points of one series",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			bailf("invalid series id %q: %v", args[0], err)
		}
		rm := openRescuemap()
		rescue, err := rm.Get(ctx, sample.SeriesID(id))
		checkErr(err)
		for _, addr := range rescue {
			cmd.Printf("%016x\n", uint64(addr))
		}
	},
}

func openRescuemap() rescuemap.Rescuemap {
	db, err := sql.Open("sqlite3", rescueDBPath)
	checkErr(err)
	rm, err := rescuemap.NewSQLRescuemap(db)
	checkErr(err)
	return rm
}

func init() {
	rescueCmd.PersistentFlags().StringVarP(&rescueDBPath, "database", "d", "", "path to the rescue-point database")
	if err := rescueCmd.MarkPersistentFlagRequired("database"); err != nil {
		bailf("failed to mark flag required: %v", err)
	}
	rescueCmd.AddCommand(rescueListCmd)
	rescueCmd.AddCommand(rescueShowCmd)
	rootCmd.AddCommand(rescueCmd)
}
