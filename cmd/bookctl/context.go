package main

import (
	"sync"

	"github.com/samber/do/v2"

	"github.com/sadontsev/flibusta-sub001/internal/config"
	"github.com/sadontsev/flibusta-sub001/internal/di"
)

type globalFlags struct {
	envFile      string
	booksPath    string
	cachePath    string
	databasePath string
	logLevel     string
	json         bool
}

// commandContext lazily loads configuration and the service container
// shared by every subcommand.
type commandContext struct {
	flags globalFlags

	once     sync.Once
	injector *do.RootScope
	err      error
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

// configArgs turns the persistent flags into arguments for config.LoadConfig
// so that flag, environment and .env precedence stays the same as the server.
func (c *commandContext) configArgs() []string {
	args := []string{"--env-file", c.flags.envFile}
	for _, f := range []struct{ name, value string }{
		{"books-path", c.flags.booksPath},
		{"cache-path", c.flags.cachePath},
		{"database-path", c.flags.databasePath},
		{"log-level", c.flags.logLevel},
	} {
		if f.value != "" {
			args = append(args, "--"+f.name, f.value)
		}
	}
	return args
}

func (c *commandContext) container() (*do.RootScope, error) {
	c.once.Do(func() {
		cfg, err := config.LoadConfig(c.configArgs())
		if err != nil {
			c.err = err
			return
		}
		c.injector = di.NewContainer(cfg)
	})
	return c.injector, c.err
}

// close shuts down whatever services the command resolved.
func (c *commandContext) close() error {
	if c.injector == nil {
		return nil
	}
	if err := c.injector.Shutdown(); err != nil {
		return err
	}
	return nil
}

func invoke[T any](c *commandContext) (T, error) {
	var zero T
	injector, err := c.container()
	if err != nil {
		return zero, err
	}
	return do.Invoke[T](injector)
}
