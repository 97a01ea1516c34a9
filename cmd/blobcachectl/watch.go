package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the database file for external changes",
	Long: `Watch reports, for diagnostic purposes only, when something else
writes to the underlying SQLite file or its WAL/SHM siblings. It never
opens the database itself, so it cannot race with an owning process —
consistent with the library's multi-process Non-goal, this is purely an
outside observer.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := viper.GetString("db")
		if path == "" {
			return fmt.Errorf("watch requires --db (an application-name-discovered path is not known until the cache is opened)")
		}
		dir := filepath.Dir(path)

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("creating watcher: %w", err)
		}
		defer watcher.Close()

		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}

		fmt.Printf("watching %s (press Ctrl+C to exit)\n", dir)

		base := filepath.Base(path)
		var debounce *time.Timer
		const debounceDelay = 250 * time.Millisecond

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				name := filepath.Base(event.Name)
				if name != base && name != base+"-wal" && name != base+"-shm" {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, func() {
					fmt.Printf("%s %s\n", time.Now().Format(time.RFC3339), event)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				fmt.Printf("watch error: %v\n", err)
			case <-rootCtx.Done():
				return nil
			}
		}
	},
}
