package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yesqlkv/yesqlkv/pkg/client"
	"github.com/yesqlkv/yesqlkv/pkg/coordinator"
	"github.com/yesqlkv/yesqlkv/pkg/id"
)

func coidFromFlags(cmd *cobra.Command) id.Coid {
	dbid, _ := cmd.Flags().GetUint64("dbid")
	tableID, _ := cmd.Flags().GetUint64("table-id")
	oid, _ := cmd.Flags().GetUint64("oid")
	return id.Coid{Cid: id.CidForTable(dbid, tableID), Oid: id.Oid(oid)}
}

func dialFromFlags(ctx context.Context, cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("addr")
	serverno, _ := cmd.Flags().GetUint64("serverno")
	return client.Dial(ctx, addr, serverno, nil)
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Read one coid's plain value",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		c, err := dialFromFlags(ctx, cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		coid := coidFromFlags(cmd)
		buf, readTs, found, err := c.Read(ctx, coid, id.NewClock().New())
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("(not found)")
			return nil
		}
		fmt.Printf("%s (readTs=%s)\n", buf, readTs)
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put",
	Short: "Write and commit one coid's plain value, one-shot",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		c, err := dialFromFlags(ctx, cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		value, _ := cmd.Flags().GetString("value")
		coid := coidFromFlags(cmd)
		clock := id.NewClock()
		tids := id.NewTidIssuer()
		tid := tids.New()

		if err := c.Write(ctx, tid, coid, []byte(value)); err != nil {
			return fmt.Errorf("put: write: %w", err)
		}
		res, err := c.Prepare(ctx, tid, clock.New(), nil, true)
		if err != nil {
			return fmt.Errorf("put: prepare: %w", err)
		}
		if res.Vote != coordinator.VoteYes {
			return fmt.Errorf("put: server voted no")
		}
		if _, err := c.Commit(ctx, tid, clock.New(), coordinator.OutcomeCommit, nil); err != nil {
			return fmt.Errorf("put: commit: %w", err)
		}
		fmt.Println("ok")
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{getCmd, putCmd} {
		cmd.Flags().String("addr", "127.0.0.1:7420", "Storage server gRPC address")
		cmd.Flags().Uint64("serverno", 1, "Server number, for cache bookkeeping")
		cmd.Flags().Uint64("dbid", 1, "Database id")
		cmd.Flags().Uint64("table-id", 1, "Table id")
		cmd.Flags().Uint64("oid", 0, "Object id within the table")
	}
	putCmd.Flags().String("value", "", "Value to write")
}
