package adapters

import (
	"context"
	"fmt"

	"browserd/internal/config"
)

// MonitorAdapter is a park target for idle merge workers. It registers no
// models and never generates; its only job is a cheap page to sit on.
type MonitorAdapter struct{}

func NewMonitorAdapter() *MonitorAdapter { return &MonitorAdapter{} }

func (a *MonitorAdapter) Type() string        { return "monitor" }
func (a *MonitorAdapter) DisplayName() string { return "Monitor" }

func (a *MonitorAdapter) TargetURL(opts config.AdapterOptions, _ config.WorkerConfig) (string, error) {
	return opts.String("baseURL", "about:blank"), nil
}

func (a *MonitorAdapter) NavigationHandlers() []NavigationHandler { return nil }

func (a *MonitorAdapter) Models() []ModelDescriptor { return nil }

func (a *MonitorAdapter) Generate(context.Context, SubContext, string, []string, string, Meta) (Result, error) {
	return Result{}, fmt.Errorf("monitor adapter does not generate")
}
