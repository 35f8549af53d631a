package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/OCharnyshevich/mcproto-server/internal/server"
)

func pingCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "ping [host[:port]]",
		Short: "Query a server's status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := "localhost:25565"
			if len(args) == 1 {
				addr = args[0]
			}
			if _, _, err := net.SplitHostPort(addr); err != nil {
				addr = net.JoinHostPort(addr, "25565")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			st, err := server.Ping(ctx, addr)
			if err != nil {
				return fmt.Errorf("ping %s: %w", addr, err)
			}

			tw := tablewriter.NewWriter(os.Stdout)
			tw.SetHeader([]string{"Address", "Version", "Protocol", "Players", "MOTD", "Latency"})
			tw.SetBorder(true)
			tw.SetAutoWrapText(false)
			tw.Append([]string{
				addr,
				st.Version.Name,
				strconv.Itoa(int(st.Version.Protocol)),
				fmt.Sprintf("%d/%d", st.Players.Online, st.Players.Max),
				st.Description.String(),
				st.Latency.Round(time.Millisecond).String(),
			})
			tw.Render()
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "give up after this long")
	return cmd
}
