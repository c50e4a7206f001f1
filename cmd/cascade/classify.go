package cascade

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/kamilpajak/cascade/internal/app"
	"github.com/kamilpajak/cascade/internal/orchestrator"
	"github.com/kamilpajak/cascade/pkg/models"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	classifyLevels  []string
	classifyJSON    bool
	classifyVerbose bool
	overridePrimary float64
	overrideSecond  float64
	overrideThird   float64
)

var classifyCmd = &cobra.Command{
	Use:   "classify [file|-]",
	Short: "Classify a document",
	Long: `Classify a document read from FILE, or from stdin when FILE is "-" or
omitted. Backends and thresholds come from the configuration; per-level
threshold flags apply to this run only.

Examples:
  cascade classify ./contract.txt
  cat memo.txt | cascade classify --levels primary,secondary
  cascade classify ./memo.txt --secondary 0.95 --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClassify,
}

func init() {
	f := classifyCmd.Flags()
	f.StringSliceVarP(&classifyLevels, "levels", "l", []string{"primary", "secondary", "tertiary"}, "Hierarchy levels to classify")
	f.BoolVar(&classifyJSON, "json", false, "Output result as JSON")
	f.BoolVarP(&classifyVerbose, "verbose", "v", false, "Show each orchestration step")
	f.Float64Var(&overridePrimary, "primary", 0, "Primary threshold for this run")
	f.Float64Var(&overrideSecond, "secondary", 0, "Secondary threshold for this run")
	f.Float64Var(&overrideThird, "tertiary", 0, "Tertiary threshold for this run")
}

func runClassify(cmd *cobra.Command, args []string) error {
	text, err := readInput(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	req, err := buildRequest(cmd, text)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	stderr := cmd.ErrOrStderr()
	var emitter orchestrator.ProgressEmitter
	switch {
	case classifyVerbose:
		emitter = &orchestrator.TextEmitter{W: stderr}
	case isTerminal(stderr):
		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(stderr))
		s.Suffix = " Classifying..."
		s.Start()
		defer s.Stop()
		emitter = spinnerEmitter{s}
	}

	result, err := a.Controller.ClassifyWithProgress(ctx, req, emitter)
	if s, ok := emitter.(spinnerEmitter); ok {
		s.Stop()
	}
	if err != nil {
		return fmt.Errorf("classification failed: %w", err)
	}

	if classifyJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printResult(stderr, cmd.OutOrStdout(), result)
	return nil
}

// spinnerEmitter shows the current step in the spinner suffix.
type spinnerEmitter struct {
	*spinner.Spinner
}

func (s spinnerEmitter) Emit(ev orchestrator.ProgressEvent) {
	if ev.Type == orchestrator.EventCall {
		s.Lock()
		s.Suffix = fmt.Sprintf(" Asking %s backend...", ev.Backend)
		s.Unlock()
	}
}

func readInput(stdin io.Reader, args []string) (string, error) {
	var data []byte
	var err error
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	return string(data), nil
}

func buildRequest(cmd *cobra.Command, text string) (models.ClassificationRequest, error) {
	req := models.ClassificationRequest{Text: text}
	for _, s := range classifyLevels {
		l, err := models.ParseLevel(strings.TrimSpace(s))
		if err != nil {
			return req, err
		}
		req.Levels = append(req.Levels, l)
	}

	var override models.ThresholdUpdate
	flags := cmd.Flags()
	if flags.Changed("primary") {
		override.Primary = &overridePrimary
	}
	if flags.Changed("secondary") {
		override.Secondary = &overrideSecond
	}
	if flags.Changed("tertiary") {
		override.Tertiary = &overrideThird
	}
	if !override.Empty() {
		req.Thresholds = &override
	}

	if _, err := req.Normalize(); err != nil {
		return req, err
	}
	return req, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
