package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yesqlkv/yesqlkv/pkg/id"
)

func init() {
	for _, cmd := range []*cobra.Command{shutdownCmd, startSplitterCmd, flushFileCmd, loadFileCmd} {
		cmd.Flags().String("addr", "127.0.0.1:7420", "Storage server gRPC address")
		cmd.Flags().Uint64("serverno", 1, "Server number, for cache bookkeeping")
	}
	shutdownCmd.Flags().Bool("full", false, "Flush the disk log and stop accepting RPCs (default: splitter-only)")
	flushFileCmd.Flags().Uint64("dbid", 1, "Database id of the table to snapshot")
	flushFileCmd.Flags().Uint64("table-id", 1, "Table id of the table to snapshot")
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Disable the split engine, or fully shut down a server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c, err := dialFromFlags(ctx, cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		full, _ := cmd.Flags().GetBool("full")
		level := 0
		if full {
			level = 1
		}
		if err := c.Shutdown(ctx, level); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

var startSplitterCmd = &cobra.Command{
	Use:   "start-splitter",
	Short: "Re-enable the split engine after a splitter-only shutdown",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c, err := dialFromFlags(ctx, cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.StartSplitter(ctx); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

var flushFileCmd = &cobra.Command{
	Use:   "flushfile FILENAME",
	Short: "Dump a table's plain values to a JSON-lines snapshot file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		c, err := dialFromFlags(ctx, cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		dbid, _ := cmd.Flags().GetUint64("dbid")
		tableID, _ := cmd.Flags().GetUint64("table-id")
		if err := c.FlushFile(ctx, args[0], id.CidForTable(dbid, tableID).DataCid()); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

var loadFileCmd = &cobra.Command{
	Use:   "loadfile FILENAME",
	Short: "Replay a JSON-lines snapshot file as one-phase-commit writes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		c, err := dialFromFlags(ctx, cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.LoadFile(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}
