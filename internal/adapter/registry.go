package adapter

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/hiresignal/jobscout/internal/pipeline"
)

// Deps carries everything a constructor might need. Renderer is nil when
// headless rendering is disabled.
type Deps struct {
	Client   ClientConfig
	Renderer *Renderer
	Logger   *zap.Logger
}

// constructors is the static adapter table. Sources are compiled in, not
// discovered, so a typo in config fails fast at startup.
var constructors = map[string]func(Deps) (pipeline.Adapter, error){
	"remoteok": func(d Deps) (pipeline.Adapter, error) {
		return NewRemoteOK(NewClient("remoteok", d.Client, d.Logger), d.Logger), nil
	},
	"hn": func(d Deps) (pipeline.Adapter, error) {
		return NewHN(NewClient("hn", d.Client, d.Logger), d.Logger), nil
	},
	"greenhouse": func(d Deps) (pipeline.Adapter, error) {
		return NewGreenhouse(NewClient("greenhouse", d.Client, d.Logger), d.Logger), nil
	},
	"lever": func(d Deps) (pipeline.Adapter, error) {
		return NewLever(NewClient("lever", d.Client, d.Logger), d.Logger), nil
	},
	"weworkremotely": func(d Deps) (pipeline.Adapter, error) {
		return NewWeWorkRemotely(d.Client, d.Logger), nil
	},
	"dice": func(d Deps) (pipeline.Adapter, error) {
		return NewDice(NewClient("dice", d.Client, d.Logger), d.Renderer, d.Logger), nil
	},
}

// Names returns every registered source name, sorted.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the named adapters. An unknown name is a config error.
func Build(names []string, deps Deps) ([]pipeline.Adapter, error) {
	adapters := make([]pipeline.Adapter, 0, len(names))
	for _, name := range names {
		ctor, ok := constructors[name]
		if !ok {
			return nil, fmt.Errorf("unknown source %q (have %v)", name, Names())
		}
		a, err := ctor(deps)
		if err != nil {
			return nil, fmt.Errorf("build source %q: %w", name, err)
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}
