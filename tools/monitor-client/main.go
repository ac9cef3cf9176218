package main

import (
	"encoding/json"
	"fmt"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tendermint/tendermint/libs/log"
	tmos "github.com/tendermint/tendermint/libs/os"
	jsonrpc "github.com/tendermint/tendermint/rpc/jsonrpc/types"
	"os"
	"strings"
	"time"
)

var (
	target  string
	verbose bool

	feedStateType string
	feedFrom      int64
	feedCount     int64
	feedInterval  time.Duration
	feedSeed      string
	feedDiverge   int64
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "monitor-client",
		Short: "Talk to a state hash monitor node over its websocket rpc",
	}
	rootCmd.PersistentFlags().StringVar(&target, "target", "127.0.0.1:26657", "rpc host:port")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "debug log")

	callCmd := &cobra.Command{
		Use:   "call <method> [key=value ...]",
		Short: "Call one rpc method and print the result, e.g. call local_chain state_type=dao from_height=0",
		Args:  cobra.MinimumNArgs(1),
		RunE:  call,
	}

	feedCmd := &cobra.Command{
		Use:   "feed",
		Short: "Act as the local state builder and push states through new_state_hash",
		RunE:  feed,
	}
	feedCmd.Flags().StringVar(&feedStateType, "state-type", "dao", "dao, proposal or blind_vote")
	feedCmd.Flags().Int64Var(&feedFrom, "from", 0, "first height to send")
	feedCmd.Flags().Int64Var(&feedCount, "count", 10, "number of heights, 0 means run until interrupted")
	feedCmd.Flags().DurationVar(&feedInterval, "interval", time.Second, "time between two heights")
	feedCmd.Flags().StringVar(&feedSeed, "seed", "dao", "nodes fed with the same seed build the same chain")
	feedCmd.Flags().Int64Var(&feedDiverge, "diverge-at", -1, "from this height on the states differ from other nodes")

	rootCmd.AddCommand(callCmd, feedCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func newLogger() log.Logger {
	logger := log.NewTMLogger(log.NewSyncWriter(os.Stdout))
	if verbose {
		return logger
	}
	return log.NewFilter(logger, log.AllowInfo())
}

// call 参数都按字符串传递，rpc server按函数签名解析
func call(cmd *cobra.Command, args []string) error {
	params := make(map[string]interface{})
	for _, kv := range args[1:] {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return errors.Errorf("bad param %q, expected key=value", kv)
		}
		params[parts[0]] = parts[1]
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return errors.Wrap(err, "failed to encode params")
	}

	c, _, err := connect(target)
	if err != nil {
		return errors.Wrapf(err, "connect %s", target)
	}
	defer c.Close()

	c.SetWriteDeadline(time.Now().Add(sendTimeout))
	err = c.WriteJSON(jsonrpc.RPCRequest{
		JSONRPC: "2.0",
		ID:      jsonrpc.JSONRPCStringID("monitor-client"),
		Method:  args[0],
		Params:  json.RawMessage(paramsJSON),
	})
	if err != nil {
		return errors.Wrap(err, "send request")
	}

	c.SetReadDeadline(time.Now().Add(sendTimeout))
	var resp jsonrpc.RPCResponse
	if err := c.ReadJSON(&resp); err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.Error != nil {
		return resp.Error
	}
	fmt.Println(string(resp.Result))
	return nil
}

func feed(cmd *cobra.Command, args []string) error {
	f := newFeeder(target, feedStateType, feedFrom, feedCount, feedInterval, feedSeed)
	f.DivergeAt = feedDiverge
	f.SetLogger(newLogger().With("module", "feeder"))

	if err := f.Start(); err != nil {
		return errors.Wrapf(err, "connect %s", target)
	}

	tmos.TrapSignal(f.logger, f.Stop)
	f.Wait()
	return nil
}
