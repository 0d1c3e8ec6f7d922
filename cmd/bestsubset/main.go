// Command bestsubset selects a sparse linear model from a CSV table.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Global flags
var verbose bool

var rootCmd = &cobra.Command{
	Use:   "bestsubset",
	Short: "Best-subset selection by splicing",
	Long: `bestsubset picks the support size and ridge penalty of a sparse linear
model by walking a grid of candidates (or searching support sizes adaptively)
and scoring every fit by information criterion or K-fold cross-validation.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(showCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
