package main

import (
	"fmt"

	"github.com/born-ml/accelnet/internal/selftest"
	"github.com/born-ml/accelnet/internal/tensor"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func selftestCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "selftest",
		Usage: "Check every operator against the host reference on random data",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "full",
				Usage: "Run the full suite of large geometries instead of the quick one",
			},
		},
		Action: func(c *cli.Context) error {
			log := e.log.Named("selftest")
			ws, err := openWorkspace(e.cfg, log)
			if err != nil {
				return err
			}
			defer ws.Release()

			seed := e.cfg.Verify.Seed
			if seed == 0 {
				seed = tensor.TimeSeed()
			}
			r, err := selftest.New(ws,
				selftest.WithLogger(log),
				selftest.WithTolerance(e.cfg.Verify.Tolerance),
				selftest.WithSeed(seed))
			if err != nil {
				return err
			}
			defer r.Close()

			cases := selftest.QuickCases()
			if c.Bool("full") {
				cases = selftest.Cases()
			}
			log.Info("running operator checks",
				zap.Stringer("device", ws.Device()),
				zap.Int("cases", len(cases)),
				zap.Uint64("seed", seed))
			results, err := r.Run(c.Context, cases)
			if err != nil {
				return err
			}

			failed := 0
			for _, res := range results {
				if !res.Report.OK() {
					failed++
					res.Report.Log(log.With(zap.Stringer("case", res.Case)), e.cfg.Verify.ShowDiffs)
				}
			}
			if failed > 0 {
				return cli.Exit(fmt.Sprintf("%d of %d operator checks failed", failed, len(results)), 2)
			}
			log.Info("all operator checks passed", zap.Int("cases", len(results)))
			return nil
		},
	}
}
