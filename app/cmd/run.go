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
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/annchain/forge/vm/executor"
	"github.com/annchain/forge/vm/state"
	vmtypes "github.com/annchain/forge/vm/types"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [hex payload]",
	Short: "Execute a call or deployment in the sandbox",
	Long: `Execute one transaction against a fresh in-memory state, or against a
fork of a live chain when --rpc is given. Without --to the payload deploys as
initcode; with --to it is sent as calldata.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		readConfig()
		initLogger()

		payload, err := hexutil.Decode(args[0])
		panicIfError(err, "payload must be 0x-prefixed hex")

		db := buildStateDB()
		env := executor.DefaultEnv()
		env.Chain.ChainID = big.NewInt(viper.GetInt64("chain_id"))
		exec := executor.NewExecutor(db, env, viper.GetUint64("gas_limit"))

		from := executor.DefaultSender
		if s := viper.GetString("from"); s != "" {
			from = common.HexToAddress(s)
		}
		value, ok := new(big.Int).SetString(viper.GetString("value"), 10)
		if !ok {
			panicIfError(fmt.Errorf("bad value %q", viper.GetString("value")), "parsing --value")
		}
		// the sandbox sender starts funded unless we run over a fork
		if viper.GetString("rpc") == "" {
			db.AddBalance(from, new(big.Int).Lsh(big.NewInt(1), 128))
		}

		var res *executor.RawCallResult
		if s := viper.GetString("to"); s != "" {
			res, err = exec.CallRawCommitting(from, common.HexToAddress(s), payload, value)
		} else {
			var dep *executor.DeployResult
			dep, err = exec.Deploy(from, payload, value, nil)
			if err == nil {
				log.WithField("address", dep.Address.Hex()).Info("deployed")
				printCallReport(vmtypes.StatusSucceeded, dep.GasUsed, dep.Logs, dep.Labels)
				return
			}
		}
		if err != nil {
			if ee, isExec := err.(*vmtypes.ExecutionErr); isExec {
				log.WithField("reason", ee.Reason).Error("execution reverted")
				printCallReport(ee.Status, ee.GasUsed, ee.Logs, ee.Labels)
				return
			}
			log.WithError(err).Fatal("execution failed")
		}

		printCallReport(res.Status, res.GasUsed, res.Logs, res.Labels)
		if len(res.Ret) > 0 {
			fmt.Println("return:", hexutil.Encode(res.Ret))
		}
		if viper.GetBool("dump") {
			fmt.Println(db.String())
		}
	},
}

func buildStateDB() *state.OverlayDB {
	rawurl := viper.GetString("rpc")
	if rawurl == "" {
		return state.NewOverlayDB(state.NewMemoryBacking())
	}
	var blockNum *big.Int
	if n := viper.GetInt64("block"); n > 0 {
		blockNum = big.NewInt(n)
	}
	backing, err := state.NewRemoteBacking(rawurl, blockNum)
	panicIfError(err, "connecting fork endpoint")
	log.WithField("rpc", rawurl).Info("forked state backing ready")
	return state.NewOverlayDB(backing)
}

func printCallReport(status vmtypes.Status, gasUsed uint64, logs []*vmtypes.Log, labels map[common.Address]string) {
	fmt.Println("status:", status.String())
	fmt.Println("gas:", gasUsed)
	for _, l := range logs {
		addr := l.Address.Hex()
		if name, ok := labels[l.Address]; ok {
			addr = name
		}
		fmt.Printf("log %s topics=%d data=%s\n", addr, len(l.Topics), hexutil.Encode(l.Data))
	}
	for addr, name := range labels {
		fmt.Printf("label %s = %s\n", addr.Hex(), name)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("from", "f", "", "Sender address, default sandbox sender")
	runCmd.Flags().StringP("to", "t", "", "Call target; empty deploys the payload as initcode")
	runCmd.Flags().String("value", "0", "Wei to transfer with the call")
	runCmd.Flags().Bool("dump", false, "Dump the resulting state overlay")

	_ = viper.BindPFlag("from", runCmd.Flags().Lookup("from"))
	_ = viper.BindPFlag("to", runCmd.Flags().Lookup("to"))
	_ = viper.BindPFlag("value", runCmd.Flags().Lookup("value"))
	_ = viper.BindPFlag("dump", runCmd.Flags().Lookup("dump"))
}
