package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tinnicap/internal/adapter/dto"
	"tinnicap/internal/adapter/secondary/notify"
	"tinnicap/internal/domain"
)

func newDevicesCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List output devices with their volume and limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			uc, err := openEngine()
			if err != nil {
				return err
			}
			devices := dto.FromStatuses(uc.DeviceStatuses())
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, devices)
			}
			if len(devices) == 0 {
				fmt.Fprintln(out, "No output devices")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTRANSPORT\tVOLUME\tLIMIT\tSTATE")
			for _, d := range devices {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					d.ID, d.Name, d.Transport, volumeColumn(d), limitColumn(d), d.State)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func volumeColumn(d dto.Device) string {
	if !d.HasVolume {
		return "n/a"
	}
	return fmt.Sprintf("%d%%", d.VolumePercent)
}

func limitColumn(d dto.Device) string {
	if !d.HasLimit {
		return "-"
	}
	return fmt.Sprintf("%d%%", d.LimitPercent)
}

func newLimitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "limit",
		Short: "Manage per-device volume limits",
	}
	cmd.AddCommand(newLimitSetCmd(), newLimitGetCmd(), newLimitRemoveCmd(), newLimitListCmd())
	return cmd
}

func newLimitSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <device> [limit]",
		Short: "Set a limit (50%, 50 or 0.5; default 75%)",
		Long: `Set the volume limit of a device, by name or stable identifier.

Whole numbers are percentages: "1" means 1%, "50" means 50%. Decimals up to 1
are fractions ("0.5", "1.0"); a trailing % always means a percentage.`,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fraction := domain.DefaultLimitSuggestion
			if len(args) == 2 {
				f, err := parseLimit(args[1])
				if err != nil {
					return err
				}
				fraction = f
			}
			uc, err := openEngine()
			if err != nil {
				return err
			}
			id, name, err := resolveTarget(uc, args[0])
			if err != nil {
				return err
			}
			stored, err := uc.SetLimit(id, fraction)
			if err != nil {
				return err
			}
			if err := persist(uc); err != nil {
				return err
			}
			printNotice(cmd.OutOrStdout(), notify.LimitSetNotice(name, stored))
			return nil
		},
	}
}

func newLimitGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <device>",
		Short: "Show the limit of one device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uc, err := openEngine()
			if err != nil {
				return err
			}
			id, name, err := resolveTarget(uc, args[0])
			if err != nil {
				return err
			}
			limit, ok := uc.GetLimit(id)
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s has no limit\n", name)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d%%\n", name, domain.Percent(limit))
			return nil
		},
	}
}

func newLimitRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <device>",
		Aliases: []string{"rm"},
		Short:   "Remove the limit of one device",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uc, err := openEngine()
			if err != nil {
				return err
			}
			id, name, err := resolveTarget(uc, args[0])
			if err != nil {
				return err
			}
			if _, ok := uc.GetLimit(id); !ok {
				return fmt.Errorf("%s has no limit", name)
			}
			if err := uc.RemoveLimit(id); err != nil {
				return err
			}
			if err := persist(uc); err != nil {
				return err
			}
			printNotice(cmd.OutOrStdout(), notify.LimitRemovedNotice(name))
			return nil
		},
	}
}

func newLimitListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List every stored limit, including devices not connected",
		RunE: func(cmd *cobra.Command, args []string) error {
			uc, err := openEngine()
			if err != nil {
				return err
			}
			limits := uc.Limits()
			out := cmd.OutOrStdout()
			if len(limits) == 0 {
				fmt.Fprintln(out, "No limits configured")
				return nil
			}
			ids := make([]string, 0, len(limits))
			for id := range limits {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tLIMIT")
			for _, id := range ids {
				fmt.Fprintf(tw, "%s\t%d%%\n", id, domain.Percent(limits[id]))
			}
			return tw.Flush()
		},
	}
}

func newModeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mode [hardCap|warning]",
		Short: "Show or change the enforcement mode",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uc, err := openEngine()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				mode, err := domain.ParseMode(args[0])
				if err != nil {
					return err
				}
				if err := uc.SetMode(mode); err != nil {
					return err
				}
				if err := persist(uc); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mode: %s\n", uc.Mode())
			return nil
		},
	}
}

func newCooldownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cooldown [duration]",
		Short: "Show or change the notification cooldown (e.g. 30s, 2m, or plain seconds)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uc, err := openEngine()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				d, err := parseCooldown(args[0])
				if err != nil {
					return err
				}
				if err := uc.SetCooldown(d); err != nil {
					return err
				}
				if err := persist(uc); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cooldown: %s\n", uc.Settings().Cooldown)
			return nil
		},
	}
}

// parseCooldown accepts a Go duration or a bare number of seconds.
func parseCooldown(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

func printNotice(w io.Writer, n dto.Notice) {
	fmt.Fprintf(w, "%s: %s\n", n.Title, n.Message)
}
