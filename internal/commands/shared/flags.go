// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"log/slog"
	"os"

	"github.com/tombee/callstep/internal/config"
	"github.com/tombee/callstep/internal/log"
)

// Global flag values - set by root command
var (
	verboseFlag bool
	quietFlag   bool
	jsonFlag    bool
	configFlag  string

	// Build-time version information
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// RegisterFlagPointers returns pointers to flag variables for binding.
// Called by root command to register flags.
func RegisterFlagPointers() (*bool, *bool, *bool, *string) {
	return &verboseFlag, &quietFlag, &jsonFlag, &configFlag
}

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

func GetVerbose() bool { return verboseFlag }

func GetQuiet() bool { return quietFlag }

func GetJSON() bool { return jsonFlag }

// GetConfigPath returns the --config value, or the default config location.
func GetConfigPath() string {
	if configFlag != "" {
		return configFlag
	}
	path, err := config.ConfigPath()
	if err != nil {
		return ""
	}
	return path
}

// SetConfigPathForTest sets the config path for testing purposes
func SetConfigPathForTest(path string) {
	configFlag = path
}

// LoadConfig loads configuration from the config file and environment. A
// missing default config file is not an error.
func LoadConfig() (*config.Config, error) {
	path := GetConfigPath()
	if configFlag == "" && path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}
	return config.Load(path)
}

// Logger builds the command logger. --verbose forces debug level and --quiet
// limits output to errors.
func Logger(cfg *config.Config) *slog.Logger {
	lc := cfg.LoggerConfig()
	switch {
	case verboseFlag:
		lc.Level = "debug"
	case quietFlag:
		lc.Level = "error"
	}
	return log.New(lc)
}
