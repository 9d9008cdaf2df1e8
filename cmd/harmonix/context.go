package main

import (
	"os"
	"strings"
	"sync"

	"harmonix/internal/apiclient"
	"harmonix/internal/config"
)

type commandContext struct {
	serverFlag *string
	tokenFlag  *string
	configFlag *string

	clientOnce sync.Once
	client     *apiclient.Client
}

func newCommandContext(serverFlag, tokenFlag, configFlag *string) *commandContext {
	return &commandContext{
		serverFlag: serverFlag,
		tokenFlag:  tokenFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) apiClient() *apiclient.Client {
	c.clientOnce.Do(func() {
		c.client = apiclient.New(c.serverAddress(), c.token())
	})
	return c.client
}

func (c *commandContext) serverAddress() string {
	if c.serverFlag != nil && strings.TrimSpace(*c.serverFlag) != "" {
		return strings.TrimSpace(*c.serverFlag)
	}
	if env := strings.TrimSpace(os.Getenv("HARMONIX_SERVER")); env != "" {
		return env
	}
	var path string
	if c.configFlag != nil {
		path = strings.TrimSpace(*c.configFlag)
	}
	if cfg, _, err := config.Load(path); err == nil && cfg.Paths.APIBind != "" {
		return cfg.Paths.APIBind
	}
	return "127.0.0.1:8937"
}

func (c *commandContext) token() string {
	if c.tokenFlag != nil && strings.TrimSpace(*c.tokenFlag) != "" {
		return strings.TrimSpace(*c.tokenFlag)
	}
	return strings.TrimSpace(os.Getenv("HARMONIX_TOKEN"))
}
