package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/unclip/settings"
)

func newSettingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change preferences",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current settings as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc, err := a.openLocal()
			if err != nil {
				return err
			}
			defer loc.Close()
			st := loc.store.Get(cmd.Context())
			if st.LicenseKey != nil {
				masked := maskKey(*st.LicenseKey)
				st.LicenseKey = &masked
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set key=value...",
		Short: "Change preferences (autoExpandEnabled, debugMode, errorReportingEnabled)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePatch(args)
			if err != nil {
				return err
			}
			loc, err := a.openLocal()
			if err != nil {
				return err
			}
			defer loc.Close()
			return loc.store.Save(cmd.Context(), p)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Restore default preferences; counters and license are kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc, err := a.openLocal()
			if err != nil {
				return err
			}
			defer loc.Close()
			return loc.store.Reset(cmd.Context())
		},
	})
	return cmd
}

// parsePatch reads key=value pairs for the user-editable preferences.
func parsePatch(args []string) (settings.Patch, error) {
	var p settings.Patch
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok {
			return p, fmt.Errorf("expected key=value, got %q", arg)
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return p, fmt.Errorf("%s: %w", k, err)
		}
		switch k {
		case settings.KeyAutoExpand:
			p.AutoExpandEnabled = &b
		case settings.KeyDebugMode:
			p.DebugMode = &b
		case settings.KeyErrorReporting:
			p.ErrorReportingEnabled = &b
		default:
			return p, fmt.Errorf("unknown or read-only setting %q", k)
		}
	}
	return p, nil
}

// maskKey keeps the prefix and the last group of a license key.
func maskKey(k string) string {
	i := strings.LastIndexByte(k, '-')
	if i < 0 || len(k) < 8 {
		return "***"
	}
	return k[:3] + "****" + k[i:]
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
