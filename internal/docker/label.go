package docker

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Label keys attached to every container the harness starts. Labels are the
// only record of which scenario owns a container, so a later sweep can find
// leftovers of an interrupted run.
const (
	// LabelPrefix namespaces all harness labels.
	LabelPrefix = "ramen-harness."

	// LabelManagedBy marks containers started by the harness.
	// Value: always ManagedByValue.
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelScenario stores the ID of the owning scenario.
	LabelScenario = LabelPrefix + "scenario"

	// LabelKey stores the command line the container was registered under.
	LabelKey = LabelPrefix + "key"

	// LabelCreatedAt stores the RFC3339 creation timestamp.
	LabelCreatedAt = LabelPrefix + "created-at"
)

// ManagedByValue is the value of LabelManagedBy.
const ManagedByValue = "ramen-harness"

// LabelSet is the harness metadata stored on a container.
type LabelSet struct {
	ScenarioID string
	Key        string
	CreatedAt  time.Time
}

// BuildLabels converts a LabelSet to Docker labels.
// The result is a fresh map the caller may extend.
func BuildLabels(set LabelSet) map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelScenario:  set.ScenarioID,
		LabelKey:       set.Key,
		// UTC keeps labels comparable across hosts.
		LabelCreatedAt: set.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ParseLabels is the inverse of BuildLabels. All missing labels are
// reported in one error.
func ParseLabels(labels map[string]string) (LabelSet, error) {
	// Check everything before failing, so one error lists every gap.
	required := []string{LabelManagedBy, LabelScenario, LabelKey, LabelCreatedAt}

	var missing []string
	for _, key := range required {
		if _, ok := labels[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return LabelSet{}, fmt.Errorf("missing required Docker labels: %s", strings.Join(missing, ", "))
	}

	if labels[LabelManagedBy] != ManagedByValue {
		return LabelSet{}, fmt.Errorf(
			"label %s has unexpected value %q (expected %q)",
			LabelManagedBy, labels[LabelManagedBy], ManagedByValue,
		)
	}

	createdAt, err := time.Parse(time.RFC3339, labels[LabelCreatedAt])
	if err != nil {
		return LabelSet{}, fmt.Errorf("invalid label %s: %w", LabelCreatedAt, err)
	}

	return LabelSet{
		ScenarioID: labels[LabelScenario],
		Key:        labels[LabelKey],
		CreatedAt:  createdAt,
	}, nil
}

// LabelArgs renders labels as sorted "--label k=v" arguments for docker run.
func LabelArgs(labels map[string]string) []string {
	// Sorted so the command line, and therefore the logs, are stable.
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, "--label", k+"="+labels[k])
	}
	return args
}

// FilterLabels returns the label selector matching harness containers,
// optionally narrowed to one scenario.
func FilterLabels(scenarioID string) map[string]string {
	// Containers without the managed-by label are never touched, even if
	// they carry a matching scenario label.
	f := map[string]string{LabelManagedBy: ManagedByValue}
	if scenarioID != "" {
		f[LabelScenario] = scenarioID
	}
	return f
}
