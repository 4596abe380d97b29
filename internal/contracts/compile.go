package contracts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// CompileOptions configures a solc standard-json run.
type CompileOptions struct {
	Solc   string // solc binary, defaults to "solc" on PATH
	Source string // path to Campaign.sol
	OutDir string // artifact directory, wiped and recreated
}

type solcInput struct {
	Language string                       `json:"language"`
	Sources  map[string]map[string]string `json:"sources"`
	Settings struct {
		OutputSelection map[string]map[string][]string `json:"outputSelection"`
	} `json:"settings"`
}

type solcOutput struct {
	Errors []struct {
		Severity         string `json:"severity"`
		FormattedMessage string `json:"formattedMessage"`
	} `json:"errors"`
	Contracts map[string]map[string]json.RawMessage `json:"contracts"`
}

// Compile builds every contract in the source file and writes one artifact per
// contract into OutDir. It returns the artifact names written.
func Compile(ctx context.Context, opts CompileOptions, logger *zap.Logger) ([]string, error) {
	if opts.Source == "" {
		return nil, fmt.Errorf("source path is required")
	}
	if opts.OutDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if opts.Solc == "" {
		opts.Solc = "solc"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	src, err := os.ReadFile(opts.Source)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	unit := filepath.Base(opts.Source)

	var in solcInput
	in.Language = "Solidity"
	in.Sources = map[string]map[string]string{unit: {"content": string(src)}}
	in.Settings.OutputSelection = map[string]map[string][]string{"*": {"*": {"*"}}}
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, opts.Solc, "--standard-json")
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run %s: %w: %s", opts.Solc, err, strings.TrimSpace(stderr.String()))
	}

	return writeArtifacts(stdout.Bytes(), unit, opts.OutDir, logger)
}

func writeArtifacts(raw []byte, unit, outDir string, logger *zap.Logger) ([]string, error) {
	var out solcOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode solc output: %w", err)
	}

	failed := false
	for _, e := range out.Errors {
		if e.Severity == "error" {
			failed = true
			logger.Error("solc", zap.String("message", e.FormattedMessage))
			continue
		}
		logger.Warn("solc", zap.String("message", e.FormattedMessage))
	}
	if failed {
		return nil, fmt.Errorf("compilation of %s failed", unit)
	}

	compiled := out.Contracts[unit]
	if len(compiled) == 0 {
		return nil, fmt.Errorf("solc produced no contracts for %s", unit)
	}

	if err := os.RemoveAll(outDir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(compiled))
	for name := range compiled {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, compiled[name], "", "  "); err != nil {
			return nil, fmt.Errorf("format artifact %s: %w", name, err)
		}
		path := filepath.Join(outDir, name+".json")
		if err := os.WriteFile(path, pretty.Bytes(), 0o644); err != nil {
			return nil, err
		}
		logger.Info("wrote artifact", zap.String("contract", name), zap.String("path", path))
	}
	return names, nil
}
