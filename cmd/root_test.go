package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// resetFlags restores every flag of c and its subcommands to its default,
// since rootCmd is shared between tests.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// setupTest isolates config and working directory and returns the temp dir.
func setupTest(t *testing.T, configYAML string) string {
	t.Helper()
	viper.Reset()
	resetFlags(rootCmd)

	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Chdir(tmpDir)

	if configYAML != "" {
		configDir := filepath.Join(tmpDir, ".config", "vibemon")
		if err := os.MkdirAll(configDir, 0755); err != nil {
			t.Fatalf("failed to create config dir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
	}
	return tmpDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootCmd_HasExpectedFlags(t *testing.T) {
	flags := rootCmd.PersistentFlags()

	tests := []struct {
		name         string
		shorthand    string
		defaultValue string
	}{
		{"thresholds", "t", ""},
		{"log-level", "l", "info"},
		{"log-format", "", "console"},
		{"debug", "D", "false"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := flags.Lookup(tt.name)
			if flag == nil {
				t.Fatalf("flag %q not found", tt.name)
			}
			if flag.Shorthand != tt.shorthand {
				t.Errorf("flag %q shorthand = %q, want %q", tt.name, flag.Shorthand, tt.shorthand)
			}
			if flag.DefValue != tt.defaultValue {
				t.Errorf("flag %q default = %q, want %q", tt.name, flag.DefValue, tt.defaultValue)
			}
			if flag.Usage == "" {
				t.Errorf("flag %q has no description", tt.name)
			}
		})
	}
}

func TestRootCmd_Properties(t *testing.T) {
	if rootCmd.Use != "vibemon" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "vibemon")
	}
	if rootCmd.Short == "" {
		t.Error("rootCmd.Short is empty")
	}
	if rootCmd.Long == "" {
		t.Error("rootCmd.Long is empty")
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	for _, name := range []string{"monitor", "calibrate", "synth", "classify", "thresholds"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := rootCmd.Find([]string{name})
			if err != nil || sub.Name() != name {
				t.Fatalf("subcommand %q not registered", name)
			}
			if sub.Short == "" {
				t.Errorf("subcommand %q has no short description", name)
			}
		})
	}
}

func TestRootCmd_HelpOutput(t *testing.T) {
	setupTest(t, "")

	output, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("Execute() with --help error = %v", err)
	}
	for _, want := range []string{"vibemon", "monitor", "calibrate", "--thresholds"} {
		if !strings.Contains(output, want) {
			t.Errorf("help output should contain %q", want)
		}
	}
}

func TestInitConfig(t *testing.T) {
	setupTest(t, "batch_size: 123")

	initConfig()

	if got := viper.GetInt("batch_size"); got != 123 {
		t.Errorf("viper.GetInt(batch_size) = %d, want 123", got)
	}
}

func TestClassify_Values(t *testing.T) {
	dir := setupTest(t, "")
	th := filepath.Join(dir, "th.txt")

	output, err := execute(t, "classify", "-t", th, "0.01", "0.05", "0.15", "0.25", "0.5")
	if err != nil {
		t.Fatalf("classify error = %v", err)
	}
	want := "0.01 CALM\n0.05 STRUCT\n0.15 FOOT\n0.25 PLAY\n0.5 JUMP\n"
	if output != want {
		t.Errorf("classify output = %q, want %q", output, want)
	}
}

func TestClassify_Errors(t *testing.T) {
	setupTest(t, "")
	if _, err := execute(t, "classify"); err == nil {
		t.Error("classify without input should fail")
	}

	setupTest(t, "")
	if _, err := execute(t, "classify", "loud"); err == nil {
		t.Error("classify with a non-numeric value should fail")
	}
}

func TestThresholds_SetShowReset(t *testing.T) {
	dir := setupTest(t, "")
	th := filepath.Join(dir, "th.txt")

	output, err := execute(t, "thresholds", "-t", th, "--set", "TH_FOOT=0.12")
	if err != nil {
		t.Fatalf("thresholds --set error = %v", err)
	}
	if !strings.Contains(output, "TH_FOOT=0.120000") {
		t.Errorf("output should contain the new value, got:\n%s", output)
	}
	data, err := os.ReadFile(th)
	if err != nil {
		t.Fatalf("thresholds file not written: %v", err)
	}
	if !strings.Contains(string(data), "TH_FOOT=0.120000") || !strings.Contains(string(data), "TH_JUMP=0.350000") {
		t.Errorf("unexpected thresholds file:\n%s", data)
	}

	setupTest(t, "")
	output, err = execute(t, "thresholds", "-t", th)
	if err != nil {
		t.Fatalf("thresholds error = %v", err)
	}
	if !strings.Contains(output, "TH_FOOT=0.120000") {
		t.Errorf("show should read the saved file, got:\n%s", output)
	}

	setupTest(t, "")
	output, err = execute(t, "thresholds", "-t", th, "--reset")
	if err != nil {
		t.Fatalf("thresholds --reset error = %v", err)
	}
	if !strings.Contains(output, "TH_FOOT=0.100000") {
		t.Errorf("reset should restore defaults, got:\n%s", output)
	}
}

func TestThresholds_InvalidSet(t *testing.T) {
	dir := setupTest(t, "")
	th := filepath.Join(dir, "th.txt")

	if _, err := execute(t, "thresholds", "-t", th, "--set", "TH_LOUD=1"); err == nil {
		t.Error("unknown key should fail")
	}
	if _, err := os.Stat(th); !os.IsNotExist(err) {
		t.Error("failed --set should not write the file")
	}
}

func TestSynth_ThenClassifyLog(t *testing.T) {
	dir := setupTest(t, "")
	logPath := filepath.Join(dir, "synth.log")

	if _, err := execute(t, "synth", "--seconds", "2", "--rate", "100", "--out", logPath); err != nil {
		t.Fatalf("synth error = %v", err)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("synth output missing: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != "#HDR ms,ax,ay,az,mag,hp_abs,rms,label" {
		t.Errorf("first line = %q, want log header", lines[0])
	}
	if len(lines) != 201 {
		t.Errorf("synth wrote %d lines, want 201", len(lines))
	}

	setupTest(t, "")
	output, err := execute(t, "classify", "--log", logPath)
	if err != nil {
		t.Fatalf("classify --log error = %v", err)
	}
	if !strings.Contains(output, "200 samples, 0 rows skipped") {
		t.Errorf("unexpected classify output:\n%s", output)
	}
}

// writeCalibrationCSV writes n well separated values per class.
func writeCalibrationCSV(t *testing.T, path string, n int) {
	t.Helper()
	centres := []struct {
		label string
		value float64
	}{
		{"CALM", 0.01}, {"STRUCT", 0.06}, {"FOOT", 0.15}, {"PLAY", 0.28}, {"JUMP", 0.5},
	}
	var b strings.Builder
	b.WriteString("#CALIB rms,label\n")
	for _, c := range centres {
		for i := 0; i < n; i++ {
			fmt.Fprintf(&b, "%.6f,%s\n", c.value+0.0005*float64(i%10), c.label)
		}
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatalf("failed to write calibration csv: %v", err)
	}
}

func TestCalibrate_FromCSV(t *testing.T) {
	dir := setupTest(t, "")
	csvPath := filepath.Join(dir, "calib.csv")
	out := filepath.Join(dir, "out", "th.txt")
	writeCalibrationCSV(t, csvPath, 30)

	output, err := execute(t, "calibrate", "--in", csvPath, "--out", out)
	if err != nil {
		t.Fatalf("calibrate error = %v", err)
	}
	if !strings.Contains(output, "saved to "+out) {
		t.Errorf("unexpected calibrate output:\n%s", output)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("thresholds not written: %v", err)
	}
	for _, key := range []string{"TH_STRUCT=", "TH_FOOT=", "TH_KID=", "TH_JUMP="} {
		if !strings.Contains(string(data), key) {
			t.Errorf("thresholds file missing %s:\n%s", key, data)
		}
	}
}

func TestCalibrate_DryRunDoesNotWrite(t *testing.T) {
	dir := setupTest(t, "")
	csvPath := filepath.Join(dir, "calib.csv")
	out := filepath.Join(dir, "th.txt")
	writeCalibrationCSV(t, csvPath, 30)

	if _, err := execute(t, "calibrate", "--in", csvPath, "--out", out, "--dry-run"); err != nil {
		t.Fatalf("calibrate --dry-run error = %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("--dry-run should not write thresholds")
	}
}

func TestCalibrate_InsufficientData(t *testing.T) {
	dir := setupTest(t, "")
	csvPath := filepath.Join(dir, "calib.csv")
	writeCalibrationCSV(t, csvPath, 10)

	_, err := execute(t, "calibrate", "--in", csvPath, "--dry-run")
	if err == nil || !strings.Contains(err.Error(), "insufficient") {
		t.Errorf("expected insufficient data error, got %v", err)
	}

	// lowering the minimum makes the same data solvable
	setupTest(t, "")
	if _, err := execute(t, "calibrate", "--in", csvPath, "--dry-run", "--min-samples", "10"); err != nil {
		t.Errorf("calibrate with --min-samples 10 error = %v", err)
	}
}

func TestCalibrate_NoInput(t *testing.T) {
	setupTest(t, "")
	if _, err := execute(t, "calibrate"); err == nil {
		t.Error("calibrate without input should fail")
	}
}

func TestMonitor_SyntheticCaptureAndExport(t *testing.T) {
	dir := setupTest(t, "")
	export := filepath.Join(dir, "capture.csv")

	output, err := execute(t, "monitor",
		"--seconds", "1", "--rate", "100", "--speed", "50",
		"--watch=false", "--stats-interval", "0",
		"--capture", "JUMP", "--export", export)
	if err != nil {
		t.Fatalf("monitor error = %v", err)
	}
	if !strings.Contains(output, "processed 100, dropped 0") {
		t.Errorf("unexpected monitor summary:\n%s", output)
	}
	if !strings.Contains(output, "device label mismatches: 0") {
		t.Errorf("synthetic labels should match local classification:\n%s", output)
	}

	data, err := os.ReadFile(export)
	if err != nil {
		t.Fatalf("export not written: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != "#CALIB rms,label" {
		t.Errorf("export header = %q", lines[0])
	}
	// header, session line and one row per sample
	if len(lines) != 102 {
		t.Errorf("export has %d lines, want 102", len(lines))
	}
	for _, line := range lines[2:] {
		if !strings.HasSuffix(line, ",JUMP") {
			t.Fatalf("captured row %q not labelled JUMP", line)
		}
	}
}

func TestMonitor_ReplayFile(t *testing.T) {
	dir := setupTest(t, "")
	logPath := filepath.Join(dir, "rec.log")
	rows := "#HDR ms,ax,ay,az,mag,hp_abs,rms,label\n" +
		"10,0,0,1,1,0.01,0.01,CALM\n" +
		"20,0,0,1,1,0.5,0.5,JUMP\n" +
		"garbage\n"
	if err := os.WriteFile(logPath, []byte(rows), 0644); err != nil {
		t.Fatalf("failed to write log: %v", err)
	}

	output, err := execute(t, "monitor", "--replay", logPath, "--speed", "100", "--watch=false", "--stats-interval", "0")
	if err != nil {
		t.Fatalf("monitor --replay error = %v", err)
	}
	if !strings.Contains(output, "processed 2, dropped 0") {
		t.Errorf("unexpected monitor summary:\n%s", output)
	}
}

func TestMonitor_FlagErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"save without calibrate", []string{"monitor", "--save"}},
		{"bad speed", []string{"monitor", "--speed", "0"}},
		{"bad capture class", []string{"monitor", "--capture", "LOUD"}},
		{"missing replay", []string{"monitor", "--replay", "does-not-exist.log"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupTest(t, "")
			if _, err := execute(t, tt.args...); err == nil {
				t.Errorf("%v should fail", tt.args)
			}
		})
	}
}

func TestMonitor_InvalidConfig(t *testing.T) {
	setupTest(t, "batch_size: 0")

	_, err := execute(t, "monitor", "--watch=false")
	if err == nil {
		t.Fatal("expected error for invalid config, got nil")
	}
	if !strings.Contains(err.Error(), "config") {
		t.Errorf("expected config error, got: %v", err)
	}
}

func TestParseClassPath(t *testing.T) {
	c, path, err := parseClassPath("jump = /tmp/j.log")
	if err != nil {
		t.Fatalf("parseClassPath() error = %v", err)
	}
	if c.String() != "JUMP" || path != "/tmp/j.log" {
		t.Errorf("parseClassPath() = %v, %q", c, path)
	}

	for _, bad := range []string{"JUMP", "JUMP=", "LOUD=/tmp/x"} {
		if _, _, err := parseClassPath(bad); err == nil {
			t.Errorf("parseClassPath(%q) should fail", bad)
		}
	}
}

func TestRunCommands_UndefinedFlagsReturnError(t *testing.T) {
	bare := func() *cobra.Command { return &cobra.Command{Use: "bare"} }

	if _, err := calibrateFlags(bare()); err == nil || !strings.Contains(err.Error(), "not defined") {
		t.Errorf("calibrateFlags() error = %v, want undefined flag error", err)
	}
	if _, err := monitorFlags(bare()); err == nil || !strings.Contains(err.Error(), "not defined") {
		t.Errorf("monitorFlags() error = %v, want undefined flag error", err)
	}
	for name, run := range map[string]func(*cobra.Command, []string) error{
		"classify":   runClassify,
		"synth":      runSynth,
		"thresholds": runThresholds,
	} {
		if err := run(bare(), nil); err == nil || !strings.Contains(err.Error(), "not defined") {
			t.Errorf("%s: error = %v, want undefined flag error", name, err)
		}
	}
}
