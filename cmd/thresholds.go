package cmd

import (
	"fmt"
	"strings"

	"github.com/ColonelBlimp/vibemon/internal/severity"
	"github.com/ColonelBlimp/vibemon/internal/store"
	"github.com/spf13/cobra"
)

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Show or edit the thresholds file",
	Long: `Prints the active thresholds. --set KEY=VALUE overrides individual values
(TH_STRUCT, TH_FOOT, TH_KID, TH_JUMP) and --reset restores the defaults; both
write the normalized result back to the thresholds file.`,
	Args: cobra.NoArgs,
	RunE: runThresholds,
}

func init() {
	f := thresholdsCmd.Flags()
	f.StringArray("set", nil, "KEY=VALUE override (repeatable)")
	f.Bool("reset", false, "restore default thresholds")

	rootCmd.AddCommand(thresholdsCmd)
}

func runThresholds(cmd *cobra.Command, _ []string) error {
	sets, err := cmd.Flags().GetStringArray("set")
	if err != nil {
		return err
	}
	reset, err := cmd.Flags().GetBool("reset")
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	path := a.settings.ThresholdsPath()
	th := a.loadThresholds()
	w := cmd.OutOrStdout()

	if !reset && len(sets) == 0 {
		fmt.Fprintf(w, "# %s\n", path)
		return store.Encode(w, th)
	}

	if reset {
		th = severity.DefaultThresholds()
	}
	if len(sets) > 0 {
		var rep store.Report
		th, rep, err = store.Decode(strings.NewReader(strings.Join(sets, "\n")), th, a.settings.Limits())
		if err != nil {
			return err
		}
		if rep.Skipped > 0 {
			return fmt.Errorf("%d invalid --set value(s); keys are %s, %s, %s, %s",
				rep.Skipped, store.KeyStruct, store.KeyFoot, store.KeyKid, store.KeyJump)
		}
	}
	th = th.Normalize(a.settings.Limits())

	if err := store.SaveFile(path, th); err != nil {
		return err
	}
	fmt.Fprintf(w, "# %s\n", path)
	return store.Encode(w, th)
}
