package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var vacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Drop expired entries and compact the database file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := openCache()
		if err != nil {
			return err
		}
		defer cache.Close(rootCtx)
		defer closeTelemetry(rootCtx)

		if _, err := cache.Vacuum(rootCtx).Wait(rootCtx); err != nil {
			return err
		}
		if !jsonOutput {
			fmt.Println("vacuum complete")
		}
		return nil
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Wait for every previously issued operation to become durable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := openCache()
		if err != nil {
			return err
		}
		defer cache.Close(rootCtx)
		defer closeTelemetry(rootCtx)

		if _, err := cache.Flush(rootCtx).Wait(rootCtx); err != nil {
			return err
		}
		if !jsonOutput {
			fmt.Println("flush complete")
		}
		return nil
	},
}
