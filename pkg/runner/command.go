package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aegis-scan/aegis/pkg/models"
)

const (
	versionTimeout = 5 * time.Second
	pluginsTimeout = 30 * time.Second
)

var (
	ansiRe       = regexp.MustCompile(`\x1b\[[0-9;]*m`)
	bareAnsiRe   = regexp.MustCompile(`\[[0-9;]*m`)
	pluginNameRe = regexp.MustCompile(`[^\w.\-]`)
)

// pluginListFlags maps a plugin kind to the engine's listing flag.
var pluginListFlags = map[string]string{
	"probes":     "--list_probes",
	"detectors":  "--list_detectors",
	"generators": "--list_generators",
	"buffs":      "--list_buffs",
}

// Engine locates and invokes the garak CLI.
type Engine struct {
	// Path is the resolved executable, or "python -m garak" when only the
	// module form is available. Empty when garak is not installed.
	Path string
}

// DiscoverEngine looks for the garak CLI on PATH, in the conventional
// install locations, then as an importable python module.
func DiscoverEngine() *Engine {
	if p, err := exec.LookPath("garak"); err == nil {
		return &Engine{Path: p}
	}

	home, _ := os.UserHomeDir()
	for _, p := range []string{
		"/usr/local/bin/garak",
		filepath.Join(home, ".local", "bin", "garak"),
	} {
		if _, err := os.Stat(p); err == nil {
			return &Engine{Path: p}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), versionTimeout)
	defer cancel()
	if err := exec.CommandContext(ctx, "python", "-m", "garak", "--version").Run(); err == nil {
		return &Engine{Path: "python -m garak"}
	}

	return &Engine{}
}

// Installed reports whether the engine responds to --version.
func (e *Engine) Installed() bool {
	if e.Path == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), versionTimeout)
	defer cancel()
	return exec.CommandContext(ctx, e.argv0(), append(e.argvRest(), "--version")...).Run() == nil
}

// Version returns the engine's --version output, or "" when unavailable.
func (e *Engine) Version(ctx context.Context) string {
	if e.Path == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, e.argv0(), append(e.argvRest(), "--version")...).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// ListPlugins runs the engine's plugin listing for the given kind and
// returns cleaned plugin names. Unknown kinds return an empty list.
func (e *Engine) ListPlugins(ctx context.Context, kind string) ([]string, error) {
	flag, ok := pluginListFlags[kind]
	if !ok {
		return nil, fmt.Errorf("unknown plugin kind %q", kind)
	}
	if e.Path == "" {
		return []string{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, pluginsTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, e.argv0(), append(e.argvRest(), flag)...).Output()
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", kind, err)
	}
	return parsePluginList(string(out)), nil
}

func (e *Engine) argv0() string {
	if e.Path == "python -m garak" {
		return "python"
	}
	return e.Path
}

func (e *Engine) argvRest() []string {
	if e.Path == "python -m garak" {
		return []string{"-m", "garak"}
	}
	return nil
}

// parsePluginList extracts plugin names from the engine's listing output,
// dropping ANSI color codes, banner lines, and non-qualified top-level
// entries marked with the engine's star glyph.
func parsePluginList(output string) []string {
	plugins := []string{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "garak") {
			continue
		}

		clean := ansiRe.ReplaceAllString(line, "")
		clean = strings.TrimSpace(bareAnsiRe.ReplaceAllString(clean, ""))
		if clean == "" {
			continue
		}

		parts := strings.Fields(clean)
		if len(parts) >= 2 && strings.HasSuffix(parts[0], ":") {
			name := pluginNameRe.ReplaceAllString(parts[1], "")
			if name == "" {
				continue
			}
			hasStar := strings.Contains(line, "🌟")
			if strings.Contains(name, ".") || !hasStar {
				plugins = append(plugins, name)
			}
		} else if len(parts) >= 1 {
			name := pluginNameRe.ReplaceAllString(parts[0], "")
			if name != "" && strings.Contains(name, ".") {
				plugins = append(plugins, name)
			}
		}
	}
	return plugins
}

// stripPrefix removes a plugin namespace prefix ("probes." etc.) once.
func stripPrefix(items []string, prefix string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, strings.TrimPrefix(it, prefix))
	}
	return out
}

// BuildCommand translates a ScanConfig into the engine argv. Flag order is
// stable so transcripts are reproducible.
func (e *Engine) BuildCommand(cfg *models.ScanConfig) ([]string, error) {
	if e.Path == "" {
		return nil, fmt.Errorf("engine executable not found")
	}

	cmd := append([]string{e.argv0()}, e.argvRest()...)

	cmd = append(cmd, "--target_type", cfg.TargetType)
	cmd = append(cmd, "--target_name", cfg.TargetName)

	if len(cfg.Probes) > 0 {
		cmd = append(cmd, "--probes", strings.Join(stripPrefix(cfg.Probes, "probes."), ","))
	}
	if cfg.ProbeTags != "" {
		cmd = append(cmd, "--probe_tags", cfg.ProbeTags)
	}
	if cfg.SystemPrompt != "" {
		cmd = append(cmd, "--system_prompt", cfg.SystemPrompt)
	}
	if cfg.ExtendedDetectors {
		cmd = append(cmd, "--extended_detectors")
	}
	if cfg.Deprefix {
		cmd = append(cmd, "--deprefix")
	}
	if cfg.Verbose > 0 {
		cmd = append(cmd, "-"+strings.Repeat("v", cfg.Verbose))
	}
	if cfg.SkipUnknown {
		cmd = append(cmd, "--skip_unknown")
	}
	if cfg.BuffsIncludeOriginalPrompt {
		cmd = append(cmd, "--buffs_include_original_prompt")
	}
	if cfg.OutputDir != "" {
		cmd = append(cmd, "--output_dir", cfg.OutputDir)
	}
	if cfg.NoReport {
		cmd = append(cmd, "--no_report")
	}
	if cfg.ContinueOnError {
		cmd = append(cmd, "--continue_on_error")
	}
	if cfg.ExcludeProbes != "" {
		cmd = append(cmd, "--exclude_probes", cfg.ExcludeProbes)
	}
	if cfg.ExcludeDetectors != "" {
		cmd = append(cmd, "--exclude_detectors", cfg.ExcludeDetectors)
	}
	if cfg.TimeoutPerProbe != nil {
		cmd = append(cmd, "--timeout_per_probe", strconv.Itoa(*cfg.TimeoutPerProbe))
	}
	if cfg.ReportThreshold != nil {
		cmd = append(cmd, "--report_threshold", formatFloat(*cfg.ReportThreshold))
	}
	if cfg.HitRate != nil {
		cmd = append(cmd, "--hit_rate", formatFloat(*cfg.HitRate))
	}
	if cfg.ConfigFile != "" {
		cmd = append(cmd, "--config", cfg.ConfigFile)
	}
	if cfg.CollectTiming {
		cmd = append(cmd, "--collect_timing")
	}
	if len(cfg.Detectors) > 0 {
		cmd = append(cmd, "--detectors", strings.Join(stripPrefix(cfg.Detectors, "detectors."), ","))
	}
	if len(cfg.Buffs) > 0 {
		cmd = append(cmd, "--buffs", strings.Join(stripPrefix(cfg.Buffs, "buffs."), ","))
	}

	generations := cfg.Generations
	if generations == 0 {
		generations = 5
	}
	cmd = append(cmd, "--generations", strconv.Itoa(generations))

	evalThreshold := cfg.EvalThreshold
	if evalThreshold == 0 {
		evalThreshold = 0.5
	}
	cmd = append(cmd, "--eval_threshold", formatFloat(evalThreshold))

	if cfg.Seed != nil {
		cmd = append(cmd, "--seed", strconv.Itoa(*cfg.Seed))
	}
	if cfg.ParallelRequests > 0 {
		cmd = append(cmd, "--parallel_requests", strconv.Itoa(cfg.ParallelRequests))
	}
	if cfg.ParallelAttempts > 0 {
		cmd = append(cmd, "--parallel_attempts", strconv.Itoa(cfg.ParallelAttempts))
	}

	genOpts := buildGeneratorOptions(cfg)
	if len(genOpts) > 0 {
		data, err := json.Marshal(genOpts)
		if err != nil {
			return nil, fmt.Errorf("encoding generator options: %w", err)
		}
		cmd = append(cmd, "--generator_options", string(data))
	}

	if len(cfg.ProbeOptions) > 0 {
		data, err := json.Marshal(cfg.ProbeOptions)
		if err != nil {
			return nil, fmt.Errorf("encoding probe options: %w", err)
		}
		cmd = append(cmd, "--probe_options", string(data))
	}

	if cfg.ReportPrefix != "" {
		cmd = append(cmd, "--report_prefix", cfg.ReportPrefix)
	}

	return cmd, nil
}

// buildGeneratorOptions wraps user options under the generator type key and
// injects OLLAMA_HOST for ollama targets when the user did not set a host.
func buildGeneratorOptions(cfg *models.ScanConfig) map[string]any {
	generatorType := strings.ToLower(strings.SplitN(cfg.TargetType, ".", 2)[0])

	opts := map[string]any{}
	if len(cfg.GeneratorOptions) > 0 {
		if _, ok := cfg.GeneratorOptions[generatorType]; ok {
			for k, v := range cfg.GeneratorOptions {
				opts[k] = v
			}
		} else {
			inner := map[string]any{}
			for k, v := range cfg.GeneratorOptions {
				inner[k] = v
			}
			opts[generatorType] = inner
		}
	}

	ollamaHost := os.Getenv("OLLAMA_HOST")
	if ollamaHost != "" && strings.Contains(generatorType, "ollama") {
		ollama, ok := opts["ollama"].(map[string]any)
		if !ok {
			ollama = map[string]any{}
			opts["ollama"] = ollama
		}
		if _, ok := ollama["host"]; !ok {
			ollama["host"] = ollamaHost
		}
	}

	return opts
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
