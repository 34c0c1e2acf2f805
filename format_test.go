package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want string
	}{
		{850 * time.Millisecond, "850ms"},
		{1234567 * time.Microsecond, "1.2s"},
		{42 * time.Second, "42.0s"},
		{3*time.Minute + 5*time.Second, "3m05s"},
		{61*time.Minute + 400*time.Millisecond, "61m00s"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.in), tt.in.String())
	}
}

func TestDash(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "-", dash(""))
	assert.Equal(t, "x", dash("x"))
}

func TestPlural(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1 file", plural(1, "file"))
	assert.Equal(t, "0 files", plural(0, "file"))
	assert.Equal(t, "3 deletions", plural(3, "deletion"))
}

func TestPrintTable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	printTable(&buf, []string{"NAME", "STATUS"}, [][]string{
		{"web", "success"},
		{"long-name", "failed"},
	})

	assert.Equal(t,
		"NAME       STATUS\n"+
			"web        success\n"+
			"long-name  failed\n",
		buf.String())
}

func TestPrintJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	assert.NoError(t, printJSON(&buf, map[string]int{"a": 1}))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", buf.String())
}
