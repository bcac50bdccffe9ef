package main

import (
	"os"

	_ "embed"

	"go.uber.org/fx"

	"github.com/flowmill/flowmill/pkg/flow/support/util/logger"
)

// embeddedConfig contains the application YAML configuration.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// embeddedFlows contains the declarative flow definitions.
//
//go:embed resources/flows.yaml
var embeddedFlows []byte

// main is the application entry point. Fx owns the lifecycle; the scheduler
// starts with the app and drains in-flight runs on SIGINT/SIGTERM.
func main() {
	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	fxApp := fx.New(GetApplicationOptions(envFilePath, embeddedConfig, embeddedFlows)...)
	fxApp.Run()
	if fxApp.Err() != nil {
		logger.Fatalf("Application run failed: %v", fxApp.Err())
	}
	os.Exit(0)
}
