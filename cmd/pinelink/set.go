package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/pinelink/internal/telemetry"
	"github.com/srg/pinelink/pkg/config"
	"github.com/srg/pinelink/pkg/connection"
)

// setCmd represents the set command
var setCmd = &cobra.Command{
	Use:   "set [address|name] <value|+N|-N|+|->",
	Short: "Change the temperature setpoint",
	Long: `Change the setpoint of an iron.

The value is either absolute (320) or relative to the current setpoint (+20, -- -20).
A bare + or - moves by one setpoint_step. Values outside setpoint_min..setpoint_max
are refused before anything is written.

Negative steps need "--" in front so they are not read as flags.`,
	Example: `  pinelink set 320
  pinelink set Pinecil-1A2B3C +
  pinelink set AA:BB:CC:DD:EE:FF -- -20`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSet,
}

var (
	setVerify  bool
	setNoColor bool
)

func init() {
	setCmd.Flags().BoolVar(&setVerify, "verify", true, "Wait for telemetry to report the new setpoint")
	setCmd.Flags().BoolVar(&setNoColor, "no-color", false, "Disable colored output")
}

// setpointArg is a parsed setpoint argument: either Absolute or a signed Delta
type setpointArg struct {
	Value    int
	Relative bool
}

// parseSetpointArg parses "320", "+20", "-20", "+" and "-"
func parseSetpointArg(s string, step int) (setpointArg, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return setpointArg{}, errors.New("empty setpoint")
	case "+":
		return setpointArg{Value: step, Relative: true}, nil
	case "-":
		return setpointArg{Value: -step, Relative: true}, nil
	}

	relative := s[0] == '+' || s[0] == '-'
	v, err := strconv.Atoi(s)
	if err != nil {
		return setpointArg{}, fmt.Errorf("invalid setpoint %q: must be a whole number, +N, -N, + or -", s)
	}
	return setpointArg{Value: v, Relative: relative}, nil
}

// apply resolves the argument against the current setpoint
func (a setpointArg) apply(current int) int {
	if a.Relative {
		return current + a.Value
	}
	return a.Value
}

// checkSetpointRange enforces the configured setpoint bounds
func checkSetpointRange(value int, cfg *config.Config) error {
	if value < cfg.SetpointMin || value > cfg.SetpointMax {
		return fmt.Errorf("%w: %d°C is outside %d..%d°C", telemetry.ErrOutOfRange, value, cfg.SetpointMin, cfg.SetpointMax)
	}
	return nil
}

func runSet(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	target, raw := "", args[len(args)-1]
	if len(args) == 2 {
		target = args[0]
	}

	arg, err := parseSetpointArg(raw, cfg.SetpointStep)
	if err != nil {
		return err
	}
	if !arg.Relative {
		if err := checkSetpointRange(arg.Value, cfg); err != nil {
			return err
		}
	}

	cmd.SilenceUsage = true
	configureColor(setNoColor)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	out := cmd.OutOrStdout()
	sess, err := openSession(ctx, target, cfg, logger, out, isTerminal())
	if err != nil {
		return err
	}
	defer sess.Close()
	if err := sess.lost(); err != nil {
		return err
	}

	m := sess.manager
	before, err := waitReading(ctx, m, cfg.OperationTimeout)
	if err != nil && arg.Relative {
		return fmt.Errorf("cannot read the current setpoint: %w", err)
	}

	value := arg.apply(int(before.Setpoint))
	if err := checkSetpointRange(value, cfg); err != nil {
		return err
	}

	writeCtx, cancelWrite := context.WithTimeout(ctx, cfg.OperationTimeout)
	defer cancelWrite()
	if err := m.SetParameter(writeCtx, value); err != nil {
		return err
	}

	if !setVerify {
		printSetpoint(out, value, before)
		return nil
	}

	if err := verifySetpoint(ctx, m, value, cfg.OperationTimeout); err != nil {
		logger.WithError(err).Warn("Setpoint not confirmed by telemetry")
		fmt.Fprintf(cmd.ErrOrStderr(), "WARNING: setpoint written but not yet reported by the iron (%v)\n", err)
	}
	printSetpoint(out, value, before)
	return nil
}

// verifySetpoint waits for a reading that reports value as the setpoint
func verifySetpoint(ctx context.Context, m *connection.Manager, value int, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case r := <-m.Readings():
			if int(r.Setpoint) == value {
				return nil
			}
		case n := <-m.Notifications():
			if n.Kind == connection.ConnectionLost {
				return fmt.Errorf("%w: %w", ErrConnectionLost, n.Err)
			}
		case <-timer.C:
			return fmt.Errorf("setpoint still not %d°C after %s", value, timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func printSetpoint(out io.Writer, value int, before telemetry.Reading) {
	bold := color.New(color.Bold).SprintFunc()
	if before.Setpoint == 0 || int(before.Setpoint) == value {
		fmt.Fprintf(out, "Setpoint: %s\n", bold(fmt.Sprintf("%d°C", value)))
		return
	}
	fmt.Fprintf(out, "Setpoint: %s (was %.0f°C)\n", bold(fmt.Sprintf("%d°C", value)), before.Setpoint)
}
