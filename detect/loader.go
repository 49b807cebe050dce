package detect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"sentinel/core"
	"sentinel/storage"
)

// yamlRule is the on-disk rule shape. Durations are whole seconds in the
// file and converted on load.
type yamlRule struct {
	ID                 string            `yaml:"id"`
	Name               string            `yaml:"name"`
	Description        string            `yaml:"description"`
	Enabled            *bool             `yaml:"enabled"`
	Conditions         []core.Condition  `yaml:"conditions"`
	WindowSeconds      int               `yaml:"window_seconds"`
	Threshold          int               `yaml:"threshold"`
	Severity           core.Severity     `yaml:"severity"`
	Actions            []core.RuleAction `yaml:"actions"`
	SuppressionSeconds int               `yaml:"suppression_seconds"`
}

type ruleFile struct {
	Rules []yamlRule `yaml:"rules"`
}

func (y yamlRule) toRule() *core.AlertRule {
	now := time.Now().UTC()
	rule := &core.AlertRule{
		ID:              y.ID,
		Name:            y.Name,
		Description:     y.Description,
		Enabled:         true,
		Conditions:      y.Conditions,
		Window:          time.Duration(y.WindowSeconds) * time.Second,
		Threshold:       y.Threshold,
		Severity:        y.Severity,
		Actions:         y.Actions,
		SuppressionTime: time.Duration(y.SuppressionSeconds) * time.Second,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if y.Enabled != nil {
		rule.Enabled = *y.Enabled
	}
	return rule
}

// LoadRulesFromFile parses alert rules from a YAML file. Every rule must
// validate; one bad rule fails the whole file so a typo cannot silently
// disable detection.
func LoadRulesFromFile(path string) ([]*core.AlertRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file %s: %w", path, err)
	}
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse rule file %s: %w", path, err)
	}
	rules := make([]*core.AlertRule, 0, len(rf.Rules))
	for _, yr := range rf.Rules {
		rule := yr.toRule()
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("invalid rule %q in %s: %w", rule.Name, path, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadRulesFromDir loads every .yml/.yaml file under dir, non-recursively
func LoadRulesFromDir(dir string) ([]*core.AlertRule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule directory %s: %w", dir, err)
	}
	var rules []*core.AlertRule
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		fileRules, err := LoadRulesFromFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		rules = append(rules, fileRules...)
	}
	return rules, nil
}

// SeedRules persists loaded rules and refreshes the engine snapshot
func SeedRules(ctx context.Context, store storage.RuleStore, engine *RuleEngine, rules []*core.AlertRule, logger *zap.SugaredLogger) error {
	for _, rule := range rules {
		if err := store.SaveRule(ctx, rule); err != nil {
			return fmt.Errorf("failed to seed rule %s: %w", rule.ID, err)
		}
	}
	logger.Infow("alert rules seeded", "count", len(rules))
	return engine.ReloadRules(ctx)
}
