// Package main is the viam module serving the serial base models.
package main

import (
	"context"

	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/module"
	goutils "go.viam.com/utils"

	"github.com/ekumenlabs/base-controller/serialbase"
)

func main() {
	goutils.ContextualMain(mainWithArgs, logging.NewDebugLogger("serialBaseModule"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	baseModule, err := module.NewModuleFromArgs(ctx, logger)
	if err != nil {
		return err
	}
	for _, model := range serialbase.Models {
		if err := baseModule.AddModelFromRegistry(ctx, base.API, model); err != nil {
			return err
		}
	}

	err = baseModule.Start(ctx)
	defer baseModule.Close(ctx)
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
