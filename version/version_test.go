package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	info := Info{Version: "v0.3.0", CommitHash: "0123456789abcdef", BuildTime: "2024-06-03"}
	assert.Equal(t, "0123456", info.Short())
	assert.Equal(t, "marketpulse v0.3.0 (commit 0123456, built 2024-06-03)", info.String())

	assert.Equal(t, "dev", Info{CommitHash: "dev"}.Short())
}

func TestUserAgent(t *testing.T) {
	assert.True(t, strings.HasPrefix(UserAgent(), "marketpulse/"))
	assert.NotEmpty(t, Get().Platform)
}
