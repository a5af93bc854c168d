package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/defistate/defistate-stableswap-go/streams/jsonrpc/client"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
)

const (
	reset = "\033[0m"
	bold  = "\033[1m"
	cyan  = "\033[36m"
	gray  = "\033[37m"

	watchBufferSize = 100
)

func header(out io.Writer, title string) {
	fmt.Fprintln(out, "\n"+bold+cyan+":: "+title+" ::"+reset)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, logger, closeLog, err := loadDaemon(cmd)
	if err != nil {
		return err
	}
	defer closeLog()
	url, _ := cmd.Flags().GetString("url")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.NewClient(ctx, client.Config{
		URL:        url,
		Logger:     logger.With("component", "replica"),
		BufferSize: watchBufferSize,
	})
	if err != nil {
		return err
	}
	logger.Debug("Watching node", "url", url, "log_level", cfg.LogLevel)

	for {
		select {
		case replica := <-c.State():
			printReplica(os.Stdout, replica)
		case err, ok := <-c.Err():
			if !ok {
				return nil
			}
			return err
		case <-ctx.Done():
			return nil
		}
	}
}

// printReplica prints one row per pool of the replica.
func printReplica(out io.Writer, replica *client.Replica) {
	header(out, fmt.Sprintf("SEQ %d", replica.Seq))
	w := tabwriter.NewWriter(out, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tNONCE\tSUPPLY\tBALANCES\tLAST PRICES\tPRICE EMAS")
	fmt.Fprintln(w, "--\t----\t-----\t------\t--------\t-----------\t----------")
	for _, p := range replica.Pools {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\t%s\n",
			p.ID,
			p.Name,
			p.Nonce,
			formatAmount(p.TotalSupply),
			joinAmounts(p.Balances),
			joinAmounts(p.Oracle.LastPrices),
			joinAmounts(p.Oracle.PriceEMAs),
		)
	}
	w.Flush()
	if len(replica.Pools) == 0 {
		fmt.Fprintln(out, gray+"no pools"+reset)
	}
}

func joinAmounts(values []*uint256.Int) string {
	parts := make([]string, len(values))
	for k, v := range values {
		parts[k] = formatAmount(v)
	}
	return strings.Join(parts, ",")
}
