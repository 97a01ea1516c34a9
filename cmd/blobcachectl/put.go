package main

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	putTypeTag string
	putTTL     time.Duration
)

var putCmd = &cobra.Command{
	Use:   "put <key> <value>",
	Short: "Store a value under a key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := openCache()
		if err != nil {
			return err
		}
		defer cache.Close(rootCtx)
		defer closeTelemetry(rootCtx)

		var expiresAt time.Time
		if putTTL > 0 {
			expiresAt = time.Now().Add(putTTL)
		}

		_, err = cache.Insert(rootCtx, putTypeTag, args[0], []byte(args[1]), expiresAt).Wait(rootCtx)
		return err
	},
}

func init() {
	putCmd.Flags().StringVar(&putTypeTag, "type", "", "type tag namespace to write to")
	putCmd.Flags().DurationVar(&putTTL, "ttl", 0, "expire the entry after this duration (0 = never)")
}
