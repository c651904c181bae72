package common

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/lgulliver/photoflow/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCache_Unreachable(t *testing.T) {
	// grab a free port and release it so nothing is listening
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = NewCache(ctx, &config.RedisConfig{Host: "127.0.0.1", Port: port})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}
