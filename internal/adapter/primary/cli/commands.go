package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tinnicap/internal/adapter/dto"
	"tinnicap/internal/adapter/primary/web"
	"tinnicap/internal/adapter/secondary/history"
	"tinnicap/internal/adapter/secondary/notify"
	"tinnicap/internal/domain"
	"tinnicap/internal/logging"
	"tinnicap/internal/usecase"
)

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the enforcement engine without the web UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			uc, err := openEngine()
			if err != nil {
				return err
			}
			sinks, err := openSinks()
			if err != nil {
				return err
			}
			defer sinks.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stopEngine, err := runEngine(ctx, uc, sinks)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "TinniCap daemon started (%d limits, mode %s)\n", len(uc.Limits()), uc.Mode())

			<-ctx.Done()
			fmt.Fprintln(cmd.OutOrStdout(), "Daemon shutting down...")
			stopEngine()
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the enforcement engine and the web UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			uc, err := openEngine()
			if err != nil {
				return err
			}
			sinks, err := openSinks()
			if err != nil {
				return err
			}
			defer sinks.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stopEngine, err := runEngine(ctx, uc, sinks)
			if err != nil {
				return err
			}
			defer stopEngine()

			var webOpts []web.Option
			if sinks.history != nil {
				webOpts = append(webOpts, web.WithHistory(sinks.history))
			}
			srv := web.NewServer(uc, opts.Addr, webOpts...)
			fmt.Fprintf(cmd.OutOrStdout(), "TinniCap UI running at http://%s\n", opts.Addr)

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			return srv.Start()
		},
	}
	cmd.Flags().String("addr", "", "HTTP listen address (default 127.0.0.1:7171)")
	bindFlags(cmd.Flags(), map[string]string{"addr": "addr"})
	return cmd
}

func newEnforceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enforce",
		Short: "Run a single enforcement pass and report violations",
		RunE: func(cmd *cobra.Command, args []string) error {
			uc, err := openEngine()
			if err != nil {
				return err
			}
			sub := uc.Subscribe(64)
			defer sub.Close()

			uc.Tick()

			out := cmd.OutOrStdout()
			found := 0
		drain:
			for {
				select {
				case ev := <-sub.C:
					if ev.Violation == nil {
						continue
					}
					found++
					n := notify.ViolationNotice(*ev.Violation)
					fmt.Fprintf(out, "%s: %s\n", n.Title, n.Message)
				default:
					break drain
				}
			}
			if found == 0 {
				fmt.Fprintln(out, "No violations")
			}
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var (
		device string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded violations (requires --history or history.path)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.History.Path == "" {
				return errors.New("history is disabled; set --history or history.path")
			}
			store, err := history.Open(opts.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.Recent(cmd.Context(), device, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No violations recorded")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tDEVICE\tATTEMPTED\tLIMIT\tMODE")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%d%%\t%d%%\t%s\n",
					r.At.Local().Format(time.DateTime), r.Name,
					domain.Percent(r.Attempted), domain.Percent(r.Limit), r.Mode)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "only show this stable identifier")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of rows")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(newConfigGetCmd())
	return cmd
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print runtime options and user settings as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			uc, err := openEngine()
			if err != nil {
				return err
			}
			display := map[string]any{
				"options": map[string]any{
					"settings":     opts.Settings,
					"backend":      opts.Backend,
					"fixture":      opts.Fixture,
					"pollInterval": opts.PollInterval.String(),
					"addr":         opts.Addr,
					"logLevel":     logging.LevelName(),
					"logFormat":    opts.Log.Format,
					"desktop":      opts.Notify.Desktop,
					"mqttBroker":   opts.MQTT.Broker,
					"historyPath":  opts.History.Path,
				},
				"settings": dto.FromSettings(uc.Settings()),
			}
			return writeJSON(cmd.OutOrStdout(), display)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// persist saves settings after a one-shot mutation.
func persist(uc usecase.MonitorUseCase) error {
	if err := uc.Persist(); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
