// Package flowdef loads declarative flow definitions from YAML.
// A definition file holds one or more flows under a top-level "flows" key.
package flowdef

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/flowmill/flowmill/pkg/flow/core/domain/model"
	"github.com/flowmill/flowmill/pkg/flow/support/util/exception"
	logger "github.com/flowmill/flowmill/pkg/flow/support/util/logger"
)

const moduleName = "flowdef_loader"

// DefinitionBytes contains the raw bytes of a flow definition file.
type DefinitionBytes []byte

// Definitions is the YAML document shape of a flow definition file.
type Definitions struct {
	Flows []*model.Flow `yaml:"flows"`
}

// LoadFlowDefinitionsFromBytes parses flow definitions from a YAML byte slice
// and validates each of them. Flows loaded this way start in the ACTIVE state
// unless the definition says otherwise.
func LoadFlowDefinitionsFromBytes(data []byte) ([]*model.Flow, error) {
	logger.Infof("Starting flow definition loading.")

	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, exception.NewPermanentError(moduleName, "Failed to parse flow definition file", err)
	}
	if len(defs.Flows) == 0 {
		return nil, exception.NewPermanentError(moduleName, "'flows' is not defined in flow definition file", nil)
	}

	seen := make(map[string]bool, len(defs.Flows))
	for _, f := range defs.Flows {
		if err := validateFlow(f); err != nil {
			return nil, err
		}
		if seen[f.Name] {
			return nil, exception.NewPermanentError(moduleName, fmt.Sprintf("Flow name '%s' is duplicated", f.Name), nil)
		}
		seen[f.Name] = true

		if f.ID == "" {
			f.ID = model.NewID()
		}
		if f.Status == "" {
			f.Status = model.FlowStatusActive
		}
		// Flows that declare no limit run one at a time.
		if f.ConcurrencyLimit == 0 {
			f.ConcurrencyLimit = 1
		}
		logger.Infof("Loaded flow '%s' (interval: %ds, source: %s, sink: %s).", f.Name, f.IntervalSeconds, f.Source.Kind, f.Sink.Kind)
	}

	logger.Infof("Flow definition loading completed. Number of flows loaded: %d", len(defs.Flows))
	return defs.Flows, nil
}

// validateFlow checks the structural invariants of a single flow definition.
func validateFlow(f *model.Flow) error {
	if f.Name == "" {
		return exception.NewPermanentError(moduleName, "Flow does not have 'name' defined", nil)
	}
	if f.IntervalSeconds <= 0 {
		return exception.NewPermanentError(moduleName, fmt.Sprintf("Flow '%s' must define a positive 'interval_seconds'", f.Name), nil)
	}
	if f.Source.Kind == "" {
		return exception.NewPermanentError(moduleName, fmt.Sprintf("Flow '%s' does not have 'source.kind' defined", f.Name), nil)
	}
	if f.Sink.Kind == "" {
		return exception.NewPermanentError(moduleName, fmt.Sprintf("Flow '%s' does not have 'sink.kind' defined", f.Name), nil)
	}
	if f.ConcurrencyGroup != "" && f.ConcurrencyGroupLimit <= 0 {
		return exception.NewPermanentError(moduleName, fmt.Sprintf("Flow '%s' sets 'concurrency_group' without a positive 'concurrency_group_limit'", f.Name), nil)
	}
	if f.ConcurrencyLimit < 0 || f.BatchSize < 0 || f.MaxResumptions < 0 {
		return exception.NewPermanentError(moduleName, fmt.Sprintf("Flow '%s' has a negative limit setting", f.Name), nil)
	}
	return nil
}
