package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"vault/internal/server/config"
)

func TestCheckShared(t *testing.T) {
	cfg := &config.Config{}
	assert.Error(t, checkShared(cfg))

	cfg.Queue.Enabled = true
	cfg.Database.Type = "memory"
	assert.Error(t, checkShared(cfg))

	cfg.Database.Type = "postgres"
	assert.NoError(t, checkShared(cfg))
}

func TestWaitForExitOnShutdown(t *testing.T) {
	ctx, stop := context.WithCancel(context.Background())
	stop()

	cancelled, waited := false, false
	code := waitForExit(ctx, make(chan struct{}), func() { cancelled = true }, func() { waited = true })
	assert.Equal(t, 0, code)
	assert.True(t, cancelled)
	assert.True(t, waited)
}

func TestWaitForExitOnBrokerLoss(t *testing.T) {
	degraded := make(chan struct{})
	close(degraded)

	cancelled, waited := false, false
	code := waitForExit(context.Background(), degraded, func() { cancelled = true }, func() { waited = true })
	assert.Equal(t, 1, code)
	assert.True(t, cancelled)
	assert.True(t, waited)
}
