package fitting

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	fitq "github.com/wearlab/fitq"
)

// ScriptEngine invokes an external diffusion model script as a subprocess.
// The caller-supplied context bounds the run; the script writes its samples
// as out_<model_type>_<i>.png into its images_output directory, from where
// they are moved into ResultsDir under unique names.
type ScriptEngine struct {
	// Interpreter is the binary used to run the script (e.g. "python3").
	Interpreter string
	// ScriptPath is the model entry script.
	ScriptPath string
	// WorkDir is the directory the script runs in; its images_output
	// subdirectory receives the raw samples.
	WorkDir string
	// ResultsDir receives the final, uniquely named result images.
	ResultsDir string

	log fitq.Logger
}

// NewScriptEngine validates the script location and prepares the results dir.
func NewScriptEngine(interpreter, scriptPath, workDir, resultsDir string, log fitq.Logger) (*ScriptEngine, error) {
	if log == nil {
		log = fitq.NewFmtLogger()
	}
	if _, err := os.Stat(scriptPath); err != nil {
		return nil, fmt.Errorf("model script not found: %w", err)
	}
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return nil, err
	}
	return &ScriptEngine{
		Interpreter: interpreter,
		ScriptPath:  scriptPath,
		WorkDir:     workDir,
		ResultsDir:  resultsDir,
		log:         log,
	}, nil
}

func (e *ScriptEngine) TryOn(ctx context.Context, req Request) ([]string, error) {
	modelAbs, err := filepath.Abs(req.ModelImagePath)
	if err != nil {
		return nil, err
	}
	clothAbs, err := filepath.Abs(req.ClothImagePath)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.Interpreter, e.ScriptPath,
		"--model_path", modelAbs,
		"--cloth_path", clothAbs,
		"--model_type", req.ModelType,
		"--category", strconv.Itoa(req.Category),
		"--scale", strconv.FormatFloat(req.Scale, 'f', -1, 64),
		"--sample", strconv.Itoa(req.Samples),
	)
	cmd.Dir = e.WorkDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		if capacityOutput(string(out)) {
			return nil, fmt.Errorf("model script: %s: %w", firstLine(string(out)), ErrCapacity)
		}
		return nil, fmt.Errorf("model script failed: %v: %s", err, firstLine(string(out)))
	}

	return e.collect(req)
}

// collect moves the script's raw samples into ResultsDir under unique names.
func (e *ScriptEngine) collect(req Request) ([]string, error) {
	srcDir := filepath.Join(e.WorkDir, "images_output")
	runID := uuid.NewString()

	var paths []string
	for i := 0; i < req.Samples; i++ {
		src := filepath.Join(srcDir, fmt.Sprintf("out_%s_%d.png", req.ModelType, i))
		if _, err := os.Stat(src); err != nil {
			e.log.Warnf("script engine: missing sample %d: %v", i, err)
			continue
		}
		dst := filepath.Join(e.ResultsDir, fmt.Sprintf("%s_result_%d.png", runID, i))
		if err := os.Rename(src, dst); err != nil {
			return nil, fmt.Errorf("move result: %w", err)
		}
		paths = append(paths, dst)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("model script produced no result images")
	}
	return paths, nil
}

// capacityOutput sniffs the script output for transient exhaustion signals.
func capacityOutput(out string) bool {
	lower := strings.ToLower(out)
	for _, marker := range []string{"out of memory", "quota", "capacity", "resource exhausted", "gpu"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
