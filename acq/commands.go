package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/plantacq/plantacq/pkg/calibrate"
	"github.com/plantacq/plantacq/pkg/config"
	"github.com/plantacq/plantacq/pkg/daq"
	"github.com/spf13/cobra"
)

func newIdentifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identify",
		Short: "Check that the acquisition board answers with the expected identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cfg, flags.GetBool("mock"))
			if err != nil {
				return err
			}
			defer app.Close()

			conv := app.buffer.Conversion()
			fmt.Fprintf(cmd.OutOrStdout(), "device identified: %s\n", daq.Identity)
			fmt.Fprintf(cmd.OutOrStdout(), "gain %.6f mV/count, zero level %.3f mV\n", conv.CountsToVolts, conv.Offset)
			return nil
		},
	}
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List attached USB devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := daq.ListUSB(cfg.USB)
			if err != nil {
				return err
			}
			for _, d := range devices {
				mark := " "
				if d.Matches {
					mark = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", mark, d)
			}
			return nil
		},
	}
}

func newStreamCmd() *cobra.Command {
	var (
		duration time.Duration
		channels int
		offset   int
		window   float64
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream data with a live terminal readout until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if channels > 0 {
				cfg.Stream.Channels = channels
			}
			app, err := openApp(cfg, flags.GetBool("mock"))
			if err != nil {
				return err
			}
			defer app.Close()

			if offset >= 0 {
				if err := app.ctrl.SetOffset(offset); err != nil {
					return err
				}
			}

			app.buffer.SetDisplay(newTerminalDisplay(cmd.OutOrStdout(), app.buffer, window, time.Second))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			app.ctrl.Clear()
			if err := app.ctrl.StartReading(); err != nil {
				return err
			}
			<-ctx.Done()

			if err := app.ctrl.StopReading(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s: %.3f s recorded\n", app.ctrl.Session(), app.buffer.EndTime())
			return nil
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this long (0 = until interrupted)")
	cmd.Flags().IntVarP(&channels, "channels", "c", 0, "number of channels (overrides config)")
	cmd.Flags().IntVar(&offset, "offset", -1, "input offset in mV (0..1024, -1 = leave unchanged)")
	cmd.Flags().Float64Var(&window, "window", 5, "seconds summarised on each readout line")
	return cmd
}

func newCalibrateCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Run the calibration routine and store the new gain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cfg, flags.GetBool("mock"))
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cal := calibrate.New(cfg.Calibration, app.ctrl, app.store)
			res, err := cal.Run(ctx)
			switch {
			case err == nil:
			case errors.Is(err, calibrate.ErrOutOfRange):
				fmt.Fprintf(cmd.OutOrStdout(), "CALIBRATION FAIL: %v\n", err)
				if !force {
					fmt.Fprintln(cmd.OutOrStdout(), "previous calibration kept, check the board and calibrate again")
					return err
				}
			default:
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "upper level mean %.3f mV, lower level mean %.3f mV\n", res.UpperMean, res.LowerMean)
			fmt.Fprintf(out, "gain %.6f -> %.6f mV/count\n", res.Previous.CountsToVolts, res.Conversion.CountsToVolts)
			fmt.Fprintf(out, "zero level %.3f -> %.3f mV\n", res.Previous.Offset, res.Conversion.Offset)

			if err := cal.Commit(res); err != nil {
				return err
			}
			fmt.Fprintf(out, "saved to %s\n", cfg.Settings.Path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "store the result even if it is out of tolerance")
	return cmd
}

func newChannelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels N",
		Short: "Set the number of multiplexed channels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid channel count %q: %w", args[0], err)
			}
			if n < 1 || n > config.MaxChannels {
				return fmt.Errorf("channel count must be between 1 and %d", config.MaxChannels)
			}

			cfg.Stream.Channels = n
			app, err := openApp(cfg, flags.GetBool("mock"))
			if err != nil {
				return err
			}
			defer app.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "channels set to %d\n", app.ctrl.Channels())
			return nil
		},
	}
}

func newOffsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "offset MILLIVOLTS",
		Short: "Set the input offset DAC",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mv, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid offset %q: %w", args[0], err)
			}

			app, err := openApp(cfg, flags.GetBool("mock"))
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.ctrl.SetOffset(mv); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "offset set to %d mV\n", mv)
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "config [PATH]",
		Short: "Write the effective configuration to a YAML file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flags.GetString("config")
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !overwrite {
				return fmt.Errorf("%s exists, use --overwrite to replace it", path)
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing file")
	return cmd
}
