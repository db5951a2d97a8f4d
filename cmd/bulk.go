// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/LeeDigitalWorks/vospace/pkg/bulk"
)

var bulkCmd = &cobra.Command{
	Use:   "bulk",
	Short: "Move the bytes of a transfer job over the bulk protocol",
	Long: `Client side of the bulk transport. The job must already exist and
offer the bulk protocol; its endpoint is the address to connect to.`,
}

var bulkPullCmd = &cobra.Command{
	Use:   "pull <job-id> <file>",
	Short: "Download the target of a pullFromVoSpace job",
	Args:  cobra.ExactArgs(2),
	RunE:  runBulkPull,
}

var bulkPushCmd = &cobra.Command{
	Use:   "push <job-id> <file>",
	Short: "Upload a file as the target of a pushToVoSpace job",
	Args:  cobra.ExactArgs(2),
	RunE:  runBulkPush,
}

func init() {
	rootCmd.AddCommand(bulkCmd)
	bulkCmd.AddCommand(bulkPullCmd, bulkPushCmd)

	pf := bulkCmd.PersistentFlags()
	pf.String("endpoint", "localhost:9010", "Bulk endpoint (host:port)")
	pf.Duration("dial_timeout", 10*time.Second, "Connection timeout")
	_ = viper.BindPFlags(pf)
}

func bulkClient(cmd *cobra.Command) *bulk.Client {
	f := NewFlagLoader(cmd)
	c := bulk.NewClient(f.String("endpoint"))
	if d := f.Duration("dial_timeout"); d > 0 {
		c.DialTimeout = d
	}
	return c
}

func runBulkPull(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var out io.Writer = cmd.OutOrStdout()
	if args[1] != "-" {
		file, err := os.Create(args[1])
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	start := time.Now()
	n, err := bulkClient(cmd).Pull(ctx, args[0], out)
	if err != nil {
		return fmt.Errorf("pull %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "received %s in %s\n", humanize.Bytes(uint64(n)), time.Since(start).Round(time.Millisecond))
	return nil
}

func runBulkPush(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	file, err := os.Open(args[1])
	if err != nil {
		return err
	}
	defer file.Close()
	st, err := file.Stat()
	if err != nil {
		return err
	}
	if !st.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", args[1])
	}

	start := time.Now()
	if err := bulkClient(cmd).Push(ctx, args[0], file, st.Size()); err != nil {
		return fmt.Errorf("push %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "sent %s in %s\n", humanize.Bytes(uint64(st.Size())), time.Since(start).Round(time.Millisecond))
	return nil
}
