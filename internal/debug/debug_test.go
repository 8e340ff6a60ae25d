package debug

import (
	"bytes"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	flags := log.Flags()
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetFlags(flags)
		SetLevel(0)
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, 0, parseLevel(""))
	assert.Equal(t, 0, parseLevel("yes"))
	assert.Equal(t, 0, parseLevel("-1"))
	assert.Equal(t, 2, parseLevel("2"))
}

func TestLevels(t *testing.T) {
	buf := capture(t)

	SetLevel(0)
	Printf("hidden")
	Dump("hidden", 1)
	assert.Empty(t, buf.String())
	assert.False(t, Enabled())

	SetLevel(1)
	Printf("shown %v", 1)
	Dump("hidden", 1)
	assert.Equal(t, "shown 1\n", buf.String())

	buf.Reset()
	SetLevel(2)
	Dump("value", struct{ A int }{A: 3})
	assert.Contains(t, buf.String(), "value:")
	assert.Contains(t, buf.String(), "A: (int) 3")
}
