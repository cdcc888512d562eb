package namegen

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIsPrefixedWithHostname(t *testing.T) {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		t.Skip("hostname unavailable")
	}

	name := New()
	assert.True(t, strings.HasPrefix(name, strings.SplitN(hostname, ".", 2)[0]+"-"), name)
	assert.Greater(t, len(name), len(strings.SplitN(hostname, ".", 2)[0])+1)
}
