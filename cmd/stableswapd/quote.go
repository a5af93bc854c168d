package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/defistate/defistate-stableswap-go/config"
	"github.com/defistate/defistate-stableswap-go/engine"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func runQuote(cmd *cobra.Command, _ []string) error {
	cfg, logger, closeLog, err := loadDaemon(cmd)
	if err != nil {
		return err
	}
	defer closeLog()

	flags := cmd.Flags()
	poolID, _ := flags.GetUint64("pool")
	i, _ := flags.GetInt("i")
	j, _ := flags.GetInt("j")
	dxStr, _ := flags.GetString("dx")
	dx, err := uint256.FromDecimal(dxStr)
	if err != nil {
		return fmt.Errorf("invalid --dx %q: %w", dxStr, err)
	}
	if cfg.DBPath == "" {
		return errors.New("quote needs --db")
	}

	file, err := config.Load(cfg.PoolsFile)
	if err != nil {
		return err
	}
	store, err := openStore(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	restored, ledger, err := loadCheckpoint(cmd.Context(), store)
	if err != nil {
		return err
	}

	n, err := buildNode(file, restored, ledger, &engine.SystemClock{}, prometheus.NewRegistry(), logger)
	if err != nil {
		return err
	}
	for _, e := range n.engines {
		if e.ID() == poolID {
			return printQuote(cmd, os.Stdout, e, i, j, dx)
		}
	}
	return fmt.Errorf("pool %d is not defined in %s", poolID, cfg.PoolsFile)
}

func printQuote(cmd *cobra.Command, out io.Writer, e *engine.Engine, i, j int, dx *uint256.Int) error {
	ctx := cmd.Context()
	dy, err := e.GetDy(ctx, i, j, dx)
	if err != nil {
		return err
	}
	snap := e.Snapshot()

	w := tabwriter.NewWriter(out, 0, 0, 4, ' ', 0)
	fmt.Fprintf(w, "POOL\t%d (%s)\n", snap.ID, snap.Name)
	fmt.Fprintf(w, "NONCE\t%d\n", snap.Nonce)
	fmt.Fprintf(w, "A\t%d\n", e.A())
	fmt.Fprintf(w, "DX (coin %d)\t%s\n", i, dx.Dec())
	fmt.Fprintf(w, "DY (coin %d)\t%s\n", j, dy.Dec())

	if !snap.TotalSupply.IsZero() {
		vp, err := e.GetVirtualPrice(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "VIRTUAL PRICE\t%s\n", vp.Dec())
	}
	d, err := e.DOracle()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "D ORACLE\t%s\n", d.Dec())
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "COIN\tBALANCE\tLAST PRICE\tPRICE ORACLE")
	fmt.Fprintln(w, "----\t-------\t----------\t------------")
	for k, bal := range snap.Balances {
		last, ema := "1e18", "1e18"
		if k > 0 {
			lp, err := e.LastPrice(k - 1)
			if err != nil {
				return err
			}
			po, err := e.PriceOracle(k - 1)
			if err != nil {
				return err
			}
			last, ema = formatAmount(lp), formatAmount(po)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", k, formatAmount(bal), last, ema)
	}
	return w.Flush()
}
