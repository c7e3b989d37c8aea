// Copyright © 2019 Annchain Authors <EMAIL ADDRESS>
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

package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "forge: sandboxed contract execution",
	Long:  `Run calls and deployments against an in-memory or forked state sandbox`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	defer DumpStack()
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Fatalf("Fatal error occurred. Program will exit")
		os.Exit(1)
	}
}

func init() {
	// fork source. Empty rpc means a fresh in-memory state.
	rootCmd.PersistentFlags().StringP("rpc", "r", "", "JSON-RPC endpoint to fork state from")
	rootCmd.PersistentFlags().Int64P("block", "b", 0, "Fork block number, 0 for latest")

	// execution env
	rootCmd.PersistentFlags().Uint64P("gas_limit", "g", 30000000, "Gas limit per call")
	rootCmd.PersistentFlags().Int64P("chain_id", "c", 1337, "Chain id of the sandbox environment")

	// log
	rootCmd.PersistentFlags().BoolP("log_stdout", "s", true, "Whether the log will be printed to stdout")
	rootCmd.PersistentFlags().StringP("log_level", "v", "info", "Logging verbosity, possible values:[panic, fatal, error, warn, info, debug, trace]")
	rootCmd.PersistentFlags().BoolP("log_line_number", "n", false, "Whether the log will contain line number")

	_ = viper.BindPFlag("rpc", rootCmd.PersistentFlags().Lookup("rpc"))
	_ = viper.BindPFlag("block", rootCmd.PersistentFlags().Lookup("block"))
	_ = viper.BindPFlag("gas_limit", rootCmd.PersistentFlags().Lookup("gas_limit"))
	_ = viper.BindPFlag("chain_id", rootCmd.PersistentFlags().Lookup("chain_id"))

	_ = viper.BindPFlag("log.stdout", rootCmd.PersistentFlags().Lookup("log_stdout"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log_level"))
	_ = viper.BindPFlag("log.line_number", rootCmd.PersistentFlags().Lookup("log_line_number"))
}
