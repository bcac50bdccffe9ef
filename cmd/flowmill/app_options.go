package main

import (
	"context"
	"errors"

	"go.uber.org/fx"

	_ "github.com/flowmill/flowmill/pkg/flow/component"
	config "github.com/flowmill/flowmill/pkg/flow/core/config"
	flowdef "github.com/flowmill/flowmill/pkg/flow/core/config/flowdef"
	repository "github.com/flowmill/flowmill/pkg/flow/core/domain/repository"
	executor "github.com/flowmill/flowmill/pkg/flow/engine/executor"
	processor "github.com/flowmill/flowmill/pkg/flow/engine/processor"
	scheduler "github.com/flowmill/flowmill/pkg/flow/engine/scheduler"
	inframetrics "github.com/flowmill/flowmill/pkg/flow/infrastructure/metrics"
	gormRepo "github.com/flowmill/flowmill/pkg/flow/infrastructure/repository/gorm"
	"github.com/flowmill/flowmill/pkg/flow/support/util/logger"
)

// GetApplicationOptions builds the uber-fx options for the engine application.
func GetApplicationOptions(envFilePath string, embeddedConfig config.EmbeddedConfig, embeddedFlows flowdef.DefinitionBytes) []fx.Option {
	var options []fx.Option

	options = append(options, fx.Supply(
		embeddedConfig,
		embeddedFlows,
		fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
	))
	options = append(options, logger.Module)
	options = append(options, config.Module)
	options = append(options, inframetrics.Module)
	options = append(options, gormRepo.Module)
	options = append(options, processor.Module)
	options = append(options, executor.Module)
	options = append(options, fx.Invoke(registerFlowDefinitions))
	options = append(options, scheduler.Module)

	return options
}

// registerFlowDefinitions loads the embedded flow definitions and upserts them
// into the repository before the scheduler starts. Definitions are matched by
// flow name; an existing flow keeps its ID and run history.
func registerFlowDefinitions(repo repository.Repository, embeddedFlows flowdef.DefinitionBytes) error {
	flows, err := flowdef.LoadFlowDefinitionsFromBytes(embeddedFlows)
	if err != nil {
		return err
	}

	ctx := context.Background()
	for _, flow := range flows {
		existing, err := repo.FindFlowByName(ctx, flow.Name)
		if err == nil {
			flow.ID = existing.ID
			flow.CreateTime = existing.CreateTime
			flow.Version = existing.Version
			if err := repo.UpdateFlow(ctx, flow); err != nil {
				return err
			}
			logger.Infof("Updated flow definition '%s' (ID: %s).", flow.Name, flow.ID)
			continue
		}
		if !errors.Is(err, repository.ErrFlowNotFound) {
			return err
		}
		if err := repo.SaveFlow(ctx, flow); err != nil {
			return err
		}
		logger.Infof("Registered new flow definition '%s' (ID: %s).", flow.Name, flow.ID)
	}
	return nil
}
