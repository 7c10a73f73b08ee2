package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"odmclient/internal/config"
)

func TestSameServer(t *testing.T) {
	assert.True(t, sameServer("https://odm.example.com/", "https://odm.example.com"))
	assert.False(t, sameServer("https://odm.example.com", "https://other.example.com"))
	assert.False(t, sameServer("", "https://odm.example.com"))
	assert.False(t, sameServer("https://odm.example.com", ""))
}

func TestTokenOnlySentToIssuingServer(t *testing.T) {
	prevCfg, prevState := cfg, state
	t.Cleanup(func() { cfg, state = prevCfg, prevState })

	cfg = config.NewDefaultConfig()
	cfg.Server.URL = "https://odm.example.com"

	state = config.State{Token: "secret"}
	assert.Empty(t, newClient().Token(), "a token without a recorded server is not sent")

	state = config.State{ServerURL: "https://other.example.com", Token: "secret"}
	assert.Empty(t, newClient().Token())

	state = config.State{ServerURL: "https://odm.example.com/", Token: "secret"}
	assert.Equal(t, "secret", newClient().Token())
}
