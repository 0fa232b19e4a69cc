// Package preprocess sanitizes raw incident artifacts before they reach the
// reasoning delegate. Every file read performed by a tool goes through a
// Pipeline, so unmasked content never enters the conversation or the ledger.
package preprocess

import (
	"fmt"
	"os"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Stage transforms artifact content. Stages run in order; each sees the
// output of the previous one.
type Stage interface {
	// Name identifies the stage for logging and configuration.
	Name() string

	// Process transforms content. An error aborts the pipeline.
	Process(content []byte) ([]byte, error)
}

// NoopStage passes content through unchanged. Used when masking is disabled
// in configuration.
type NoopStage struct{}

// Name implements Stage.Name.
func (NoopStage) Name() string { return "noop" }

// Process implements Stage.Process.
func (NoopStage) Process(content []byte) ([]byte, error) { return content, nil }

// MaskRule is a single redaction pattern.
type MaskRule struct {
	// Name identifies the rule in configuration and logs.
	Name string

	// Pattern is the regular expression to redact.
	Pattern *regexp.Regexp

	// Replacement substitutes matched text. Supports capture group
	// references ($1, $2) so rules can keep non-sensitive context.
	Replacement string
}

// RegexMasker redacts sensitive values with a set of MaskRules.
type RegexMasker struct {
	rules []MaskRule
}

// NewRegexMasker creates a masker with the given rules.
func NewRegexMasker(rules []MaskRule) *RegexMasker {
	return &RegexMasker{rules: rules}
}

// DefaultMaskRules covers the credential shapes that commonly leak into logs
// and config dumps: key=value secrets, bearer tokens, email addresses, and
// IPv4 addresses.
func DefaultMaskRules() []MaskRule {
	return []MaskRule{
		{
			Name:        "secret-assignment",
			Pattern:     regexp.MustCompile(`(?i)((?:password|passwd|secret|token|api[_-]?key|access[_-]?key)\s*[=:]\s*)\S+`),
			Replacement: "$1[MASKED]",
		},
		{
			Name:        "bearer-token",
			Pattern:     regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/=-]+`),
			Replacement: "$1[MASKED]",
		},
		{
			Name:        "email",
			Pattern:     regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
			Replacement: "[MASKED_EMAIL]",
		},
		{
			Name:        "ipv4",
			Pattern:     regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
			Replacement: "[MASKED_IP]",
		},
	}
}

// Name implements Stage.Name.
func (m *RegexMasker) Name() string { return "regex-masker" }

// Process implements Stage.Process.
func (m *RegexMasker) Process(content []byte) ([]byte, error) {
	for _, rule := range m.rules {
		content = rule.Pattern.ReplaceAll(content, []byte(rule.Replacement))
	}
	return content, nil
}

// Pipeline runs artifact content through an ordered list of stages and
// caches per-file results. Incident artifacts are immutable during a run,
// so cache entries are keyed on path plus file size and mtime.
type Pipeline struct {
	stages []Stage
	cache  *lru.Cache[string, string]
}

const defaultCacheSize = 256

// NewPipeline creates a pipeline with the given stages. A pipeline with no
// stages passes content through unchanged.
func NewPipeline(stages ...Stage) (*Pipeline, error) {
	cache, err := lru.New[string, string](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create preprocess cache: %w", err)
	}
	return &Pipeline{stages: stages, cache: cache}, nil
}

// Process runs raw content through all stages.
func (p *Pipeline) Process(raw []byte) (string, error) {
	content := raw
	for _, stage := range p.stages {
		out, err := stage.Process(content)
		if err != nil {
			return "", fmt.Errorf("preprocess stage %s failed: %w", stage.Name(), err)
		}
		content = out
	}
	return string(content), nil
}

// ProcessFile reads and sanitizes a file, serving repeated reads from cache.
func (p *Pipeline) ProcessFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	key := fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
	if cached, ok := p.cache.Get(key); ok {
		return cached, nil
	}

	// paths come from the tool gateway, already confined to issue dirs
	// #nosec G304 -- Artifact paths are validated by the calling tool
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	processed, err := p.Process(raw)
	if err != nil {
		return "", err
	}
	p.cache.Add(key, processed)
	return processed, nil
}
