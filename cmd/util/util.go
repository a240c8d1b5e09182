// Package util provides common utilities for spf13/cobra CLI utilities
// that can be used for various commands within this project.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/dsrkit/dsrkit/pkg/dataset"
	"github.com/dsrkit/dsrkit/pkg/graph"
)

// MustBindPFlag attempts to bind a specific key to a pflag (as used by cobra) and panics
// if the binding fails with a non-nil error.
func MustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}

func MustBindEnv(input ...string) {
	if err := viper.BindEnv(input...); err != nil {
		panic("failed to bind env key: " + err.Error())
	}
}

func Contains[E comparable](s []E, v E) bool {
	return Index(s, v) >= 0
}

func Index[E comparable](s []E, v E) int {
	for i, vs := range s {
		if v == vs {
			return i
		}
	}
	return -1
}

// LoadGraph builds the dataset graph from dataset files and directories of them.
func LoadGraph(paths []string) (*graph.Graph, error) {
	var datasets []*graph.GraphDataset
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("load datasets: %w", err)
		}
		var loaded []*graph.GraphDataset
		if info.IsDir() {
			loaded, err = dataset.LoadDir(p)
		} else {
			loaded, err = dataset.LoadFiles(p)
		}
		if err != nil {
			return nil, fmt.Errorf("load datasets: %w", err)
		}
		datasets = append(datasets, loaded...)
	}
	return graph.NewGraph(datasets...)
}

func PrepareTempConfigDir(t *testing.T) string {
	_, err := os.Stat("/etc/dsrkit/config.yaml")
	require.ErrorIs(t, err, os.ErrNotExist, "Config file at /etc/dsrkit/config.yaml would disturb test result.")

	homedir := t.TempDir()
	t.Setenv("HOME", homedir)

	confdir := filepath.Join(homedir, ".dsrkit")
	require.NoError(t, os.Mkdir(confdir, 0750))

	return confdir
}

func PrepareTempConfigFile(t *testing.T, config string) {
	confdir := PrepareTempConfigDir(t)
	confFile, err := os.Create(filepath.Join(confdir, "config.yaml"))
	require.NoError(t, err)
	_, err = confFile.WriteString(config)
	require.NoError(t, err)
	require.NoError(t, confFile.Close())
}
