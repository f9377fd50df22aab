package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"conveyor/internal/config"
	"conveyor/internal/daemonrun"
	"conveyor/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withRuntime opens the database and services for the duration of fn.
// Service logs go to stderr at warn level unless the config asks for debug.
func (c *commandContext) withRuntime(cmd *cobra.Command, fn func(*daemonrun.Runtime) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Level:  cliLogLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	rt, err := daemonrun.Open(commandCtx(cmd), cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func commandCtx(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func cliLogLevel(configured string) string {
	if strings.EqualFold(strings.TrimSpace(configured), "debug") {
		return "debug"
	}
	return "warn"
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func printKV(out io.Writer, rows [][2]string) {
	width := 0
	for _, row := range rows {
		width = max(width, len(row[0]))
	}
	for _, row := range rows {
		fmt.Fprintf(out, "%-*s  %s\n", width+1, row[0]+":", row[1])
	}
}
