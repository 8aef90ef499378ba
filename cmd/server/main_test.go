package main

import (
	"testing"

	"github.com/fyerfyer/contract-auditor/config"
	"github.com/stretchr/testify/assert"
)

func TestApplyFlags(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.Port = 9000
	cfg.Server.Mode = "release"
	cfg.Log.Level = "info"

	// 未显式指定的参数不覆盖配置文件
	applyFlags(cfg, flags{Port: 8080, Mode: "debug", LogLevel: "debug", set: map[string]bool{"mode": true}})
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.Mode)
	assert.Equal(t, "info", cfg.Log.Level)

	applyFlags(cfg, flags{Port: 8081, LogLevel: "warn", set: map[string]bool{"port": true, "log-level": true}})
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}
