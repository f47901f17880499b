package main

import (
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"tn3270kit/internal/app"
	"tn3270kit/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded connections",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := app.Boot(cfgFile, !verbose); err != nil {
			log.Fatal(err)
		}
		if app.Store == nil {
			log.Fatal("history is disabled in the configuration")
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		app.Shutdown()
	},
}

var (
	verbose      bool
	historyKind  string
	historyLimit int
	olderThan    time.Duration
	assumeYes    bool
)

func init() {
	historyCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	historyListCmd.Flags().StringVarP(&historyKind, "kind", "k", "", "only show target or relay connections")
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of connections to show")
	historyClearCmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "remove connections started before this long ago")
	historyClearCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyClearCmd)
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent connections",
	Run: func(cmd *cobra.Command, args []string) {
		if historyKind != "" && historyKind != store.KindTarget && historyKind != store.KindRelay {
			log.Fatalf("unknown kind %q", historyKind)
		}

		conns, err := app.Store.RecentConnections(historyKind, historyLimit)
		if err != nil {
			log.Fatalf("Failed to list connections: %v", err)
		}
		if len(conns) == 0 {
			fmt.Println("No connections recorded.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tKIND\tPEER\tLU\tTERMINAL\tTN3270E\tTLS\tDURATION\tIN\tOUT\tERROR")
		for _, c := range conns {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\t%v\t%s\t%d\t%d\t%s\n",
				c.StartedAt.Format(time.DateTime),
				c.Kind,
				c.Peer,
				dash(c.LU),
				dash(c.TerminalType),
				c.TN3270E,
				c.Secure,
				c.Duration().Round(time.Millisecond),
				c.BytesIn,
				c.BytesOut,
				dash(c.Error),
			)
		}
		w.Flush()
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove old connection records",
	Run: func(cmd *cobra.Command, args []string) {
		cutoff := time.Now().Add(-olderThan)

		if !assumeYes {
			confirm := false
			err := huh.NewConfirm().
				Title(fmt.Sprintf("Remove connections started before %s?", cutoff.Format(time.DateTime))).
				Value(&confirm).
				Run()
			if err != nil {
				log.Fatal(err)
			}
			if !confirm {
				fmt.Println("Nothing removed.")
				return
			}
		}

		n, err := app.Store.ClearConnections(cutoff)
		if err != nil {
			log.Fatalf("Failed to clear connections: %v", err)
		}
		fmt.Printf("Removed %d connection(s).\n", n)
	},
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
