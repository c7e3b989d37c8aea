package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// readConfig merges an optional forge.toml from the working directory on top
// of the flag defaults, then lets FORGE_* environment variables override
// everything.
func readConfig() {
	configPath, err := filepath.Abs("forge.toml")
	panicIfError(err, "parsing config file path")

	if _, err := os.Stat(configPath); err == nil {
		mergeLocalConfig(configPath)
	}
	mergeEnvConfig()
}

func mergeEnvConfig() {
	// env override
	viper.SetEnvPrefix("forge")
	viper.AutomaticEnv()
}

func mergeLocalConfig(configPath string) {
	file, err := os.Open(configPath)
	panicIfError(err, fmt.Sprintf("Error on opening config file: %s", configPath))
	defer file.Close()

	viper.SetConfigType("toml")
	err = viper.MergeConfig(file)
	panicIfError(err, fmt.Sprintf("Error on reading config file: %s", configPath))
}

func panicIfError(err error, message string) {
	if err != nil {
		fmt.Println(message)
		panic(err)
	}
}
