// Copyright 2026 The modelwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logging

import (
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatter_Format(t *testing.T) {
	entry := &log.Entry{
		Time:    time.Date(2026, 8, 29, 10, 15, 4, 0, time.UTC),
		Level:   log.InfoLevel,
		Message: "Refreshing 42 checkpoint models\n",
	}

	out, err := (&Formatter{}).Format(entry)
	require.NoError(t, err)

	line := string(out)
	assert.Contains(t, line, "[2026-08-29 10:15:04]")
	assert.Contains(t, line, "[info ]")
	assert.Contains(t, line, "Refreshing 42 checkpoint models")
	assert.NotContains(t, line[:len(line)-1], "\n", "trailing newlines in messages are trimmed")
}

func TestFormatter_WarningLevelShortened(t *testing.T) {
	entry := &log.Entry{
		Time:    time.Now(),
		Level:   log.WarnLevel,
		Message: "rate limited",
	}
	out, err := (&Formatter{}).Format(entry)
	require.NoError(t, err)
	assert.Contains(t, string(out), "[warn ]")
}

func TestFormatter_Fields(t *testing.T) {
	entry := &log.Entry{
		Time:    time.Now(),
		Level:   log.DebugLevel,
		Message: "GET /models/4201",
		Data:    log.Fields{"request_id": "ab12cd34"},
	}
	out, err := (&Formatter{}).Format(entry)
	require.NoError(t, err)
	assert.Contains(t, string(out), "request_id=ab12cd34")
}
