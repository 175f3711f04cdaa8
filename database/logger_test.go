/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogrusLoggerFields(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := NewLogrusLogger(base)

	l.Info("commit succeeded", "session", "s1", "rows", 3)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "commit succeeded", entry.Message)
	assert.Equal(t, logrus.Fields{"session": "s1", "rows": 3}, entry.Data)

	l.Warn("odd", "dangling")
	entry = hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "dangling", entry.Data["!BADKEY"])

	hook.Reset()
	base.SetLevel(logrus.InfoLevel)
	l.Debug("hidden")
	assert.Empty(t, hook.AllEntries())
}

func TestLogLevelNames(t *testing.T) {
	assert.Equal(t, "WARN", LogLevelWarn.String())
	assert.Equal(t, "DEBUG", LogLevel(42).String())
}

func TestInitLoggerIgnoresNil(t *testing.T) {
	prev := GetLogger()
	InitLogger(nil)
	assert.Same(t, prev, GetLogger())

	rec := &recordingLogger{}
	InitLogger(rec)
	defer InitLogger(prev)
	assert.Same(t, rec, GetLogger())
}
