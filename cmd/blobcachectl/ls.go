package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	lsTypeTag string
	lsFormat  string
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List non-expired keys (untyped entries unless --type is given)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := openCache()
		if err != nil {
			return err
		}
		defer cache.Close(rootCtx)
		defer closeTelemetry(rootCtx)

		keys, err := cache.GetAllKeys(rootCtx, lsTypeTag).Wait(rootCtx)
		if err != nil {
			return err
		}

		format := lsFormat
		if jsonOutput {
			format = "json"
		}
		switch format {
		case "yaml":
			return yaml.NewEncoder(os.Stdout).Encode(keys)
		case "json":
			return json.NewEncoder(os.Stdout).Encode(keys)
		default:
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		}
	},
}

func init() {
	lsCmd.Flags().StringVar(&lsTypeTag, "type", "", "list keys under this type tag instead of the untyped entries")
	lsCmd.Flags().StringVar(&lsFormat, "format", "plain", "output format: plain, json, or yaml")
}
