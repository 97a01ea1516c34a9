package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var getTypeTag string

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the value stored under a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := openCache()
		if err != nil {
			return err
		}
		defer cache.Close(rootCtx)
		defer closeTelemetry(rootCtx)

		value, err := cache.Get(rootCtx, getTypeTag, args[0]).Wait(rootCtx)
		if err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(map[string]string{
				"key":   args[0],
				"value": string(value),
			})
		}
		_, err = os.Stdout.Write(value)
		if err == nil {
			fmt.Println()
		}
		return err
	},
}

func init() {
	getCmd.Flags().StringVar(&getTypeTag, "type", "", "type tag namespace to read from")
}
