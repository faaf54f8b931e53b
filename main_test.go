package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStagesContinuesPastFailure(t *testing.T) {
	var ran []string
	stage := func(name string, err error) pipelineStage {
		return pipelineStage{name: name, run: func(context.Context) error {
			ran = append(ran, name)
			return err
		}}
	}

	var reported []string
	err := runStages(context.Background(), []pipelineStage{
		stage("scrape", nil),
		stage("map-entities", errors.New("concordance unreachable")),
		stage("compare", nil),
		stage("sync-rpds", nil),
	}, func(name string, _ error) {
		reported = append(reported, name)
	})

	assert.Equal(t, []string{"scrape", "map-entities", "compare", "sync-rpds"}, ran)
	assert.Equal(t, []string{"map-entities"}, reported)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage map-entities")
}

func TestRunStagesJoinsEveryFailure(t *testing.T) {
	err := runStages(context.Background(), []pipelineStage{
		{name: "scrape", run: func(context.Context) error { return errors.New("boom") }},
		{name: "report", run: func(context.Context) error { return errors.New("smtp down") }},
	}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage scrape")
	assert.Contains(t, err.Error(), "stage report")
}

func TestTailLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	content := strings.Repeat("early line\n", 100) + "final failure line\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tail := tailLogFile(path, 64)
	assert.LessOrEqual(t, len(tail), 64)
	assert.Contains(t, tail, "final failure line")

	assert.Empty(t, tailLogFile(filepath.Join(t.TempDir(), "missing.log"), 64))
}
