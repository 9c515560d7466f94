package logger

import (
	"bytes"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestInitWithWriter(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, zerolog.WarnLevel, InitWithWriter("WARN", &buf))
	assert.Equal(t, zerolog.InfoLevel, InitWithWriter("nope", &buf))
	assert.Equal(t, zerolog.InfoLevel, InitWithWriter("", &buf))

	buf.Reset()
	l := WithComponent("pool")
	l.Info().Int("valid", 2).Msg("pass finished")
	assert.Contains(t, buf.String(), `"component":"pool"`)
	assert.Contains(t, buf.String(), `"valid":2`)

	buf.Reset()
	l.Debug().Msg("hidden")
	assert.Empty(t, buf.String())
}
