package main

import (
	"github.com/spf13/cobra"
)

var (
	rmTypeTag string
	rmAll     bool
)

var rmCmd = &cobra.Command{
	Use:   "rm <key>",
	Short: "Remove the entry stored under a key",
	Long:  "Remove the entry stored under a key. With --all, removes every entry across every type tag instead and ignores any positional argument.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := openCache()
		if err != nil {
			return err
		}
		defer cache.Close(rootCtx)
		defer closeTelemetry(rootCtx)

		if rmAll {
			_, err := cache.InvalidateAll(rootCtx).Wait(rootCtx)
			return err
		}
		if len(args) != 1 {
			return cobra.ExactArgs(1)(cmd, args)
		}
		_, err = cache.Invalidate(rootCtx, rmTypeTag, args[0]).Wait(rootCtx)
		return err
	},
}

func init() {
	rmCmd.Flags().StringVar(&rmTypeTag, "type", "", "type tag namespace to remove from")
	rmCmd.Flags().BoolVar(&rmAll, "all", false, "remove every entry across every type tag")
}
