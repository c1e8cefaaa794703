// Package worker registers the built-in worker plugin.
package worker

import (
	"github.com/fairyhunter13/procurement-bridge/internal/bridge"
	"github.com/fairyhunter13/procurement-bridge/internal/plugin"
)

func init() {
	plugin.RegisterWorker("basic", func(env bridge.WorkerEnv) bridge.Runner {
		return bridge.NewWorker(env)
	})
}
