package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"routeworker/internal/job"
	"routeworker/internal/model"
	"routeworker/internal/queue"
)

func submitCmd(conn *connFlags) *cobra.Command {
	var summary bool
	cmd := &cobra.Command{
		Use:   "submit ./path/to/request.json",
		Short: "Submit a routing request and print the reply",
		Long: `Submit a GeoJSON routing request to the worker queue and wait for the reply.

Example request.json:

  {"numberDrivers": 2, "returnToStart": false,
   "features": [
     {"type": "Feature", "geometry": {"type": "Point", "coordinates": [-79.24, 43.16]},
      "properties": {"address": "1 Main St"}}
   ]}

Use - to read the request from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			// fail here rather than have the worker dead-letter it
			if _, err := job.Decode(body); err != nil {
				return err
			}
			caller, err := openCaller(cmd.Context(), conn)
			if err != nil {
				return err
			}
			defer func() { _ = caller.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), conn.timeout)
			defer cancel()
			reply, err := caller.Call(ctx, body)
			if err != nil {
				return fmt.Errorf("waiting for reply: %w", err)
			}
			if summary {
				res, err := job.DecodeResult(reply)
				if err != nil {
					return err
				}
				return printSummary(cmd.OutOrStdout(), res)
			}
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, reply, "", "  "); err != nil {
				return fmt.Errorf("reply is not JSON: %w", err)
			}
			pretty.WriteByte('\n')
			_, err = pretty.WriteTo(cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().BoolVar(&summary, "summary", false, "Print one line per stop instead of the raw reply")
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func openCaller(ctx context.Context, conn *connFlags) (queue.Caller, error) {
	switch conn.transport {
	case "redis":
		rdb, err := queue.Dial(ctx, conn.redisURL)
		if err != nil {
			return nil, err
		}
		return queue.NewRedisCaller(rdb, conn.queue), nil
	case "amqp":
		return queue.DialAMQPCaller(conn.amqpURL, conn.queue)
	default:
		return nil, fmt.Errorf("unknown transport %q", conn.transport)
	}
}

func printSummary(w io.Writer, res model.JobResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DRIVER\tORDER\tSTOP\tLABEL")
	for _, r := range res.Routes {
		if len(r.Features) == 0 {
			fmt.Fprintf(tw, "%d\t-\t-\t(no stops)\n", r.Driver)
			continue
		}
		for _, f := range r.Features {
			id := "-"
			if f.Properties.ID != nil {
				id = fmt.Sprint(*f.Properties.ID)
			}
			fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", r.Driver, f.Properties.Order, id, f.Properties.Address)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "total distance: %.1f m\n", res.TotalDistance)
	return err
}
