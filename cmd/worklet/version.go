package main

import (
	"fmt"

	"github.com/AnatoleLucet/worklet"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of worklet",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("worklet version %s\n", worklet.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
