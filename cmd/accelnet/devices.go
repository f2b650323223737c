package main

import (
	"fmt"

	"github.com/born-ml/accelnet/kernels"
	"github.com/urfave/cli/v2"
)

var programs = []struct{ program, entry string }{
	{kernels.Conv2DProgram, kernels.Conv2DEntry},
	{kernels.DepthwiseConv2DProgram, kernels.DepthwiseConv2DEntry},
	{kernels.BatchNormProgram, kernels.BatchNormEntry},
}

func devicesCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "Describe the configured workspace and build its kernels",
		Action: func(c *cli.Context) error {
			ws, err := openWorkspace(e.cfg, e.log)
			if err != nil {
				return err
			}
			defer ws.Release()

			w := c.App.Writer
			fmt.Fprintf(w, "platform: %s\n", ws.Platform())
			fmt.Fprintf(w, "device:   %s\n", ws.Device())
			for _, p := range programs {
				k, err := ws.CreateKernel(p.program, p.entry, false)
				if err != nil {
					fmt.Fprintf(w, "kernel %-20s %-22s FAILED: %v\n", p.entry, p.program, err)
					continue
				}
				k.Release()
				fmt.Fprintf(w, "kernel %-20s %-22s ok\n", p.entry, p.program)
			}
			return nil
		},
	}
}
