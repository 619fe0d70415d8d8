package backend

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFuzzerStats(t *testing.T) {
	stats, err := parseFuzzerStats(strings.NewReader(`start_time        : 1700000000
execs_done        : 123456
saved_crashes     : 2
command_line      : afl-fuzz -i - -o out -- ./target/debug/a

garbage line
`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"start_time":    "1700000000",
		"execs_done":    "123456",
		"saved_crashes": "2",
		"command_line":  "afl-fuzz -i - -o out -- ./target/debug/a",
	}, stats)
}

func TestAFLStats(t *testing.T) {
	p, _ := newTestParams(t)
	afl, err := NewAFL(p)
	require.NoError(t, err)

	_, err = afl.Stats("a")
	assert.ErrorContains(t, err, "no fuzzer_stats")

	writeFile(t, filepath.Join(afl.SessionDir(), "default", "fuzzer_stats"), "execs_done : 42\n")
	stats, err := afl.Stats("a")
	require.NoError(t, err)
	assert.Equal(t, "42", stats["execs_done"])
}
