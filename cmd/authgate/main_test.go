package main

import (
	"net/http"
	"testing"
	"time"

	"github.com/plantinhas/authgate/config"
	"github.com/stretchr/testify/assert"
)

func TestNewServer(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:         "127.0.0.1",
			Port:         9090,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 7 * time.Second,
		},
	}
	handler := http.NotFoundHandler()

	server := newServer(cfg, handler)

	assert.Equal(t, "127.0.0.1:9090", server.Addr)
	assert.Equal(t, 5*time.Second, server.ReadTimeout)
	assert.Equal(t, 7*time.Second, server.WriteTimeout)
	assert.NotNil(t, server.Handler)
}
