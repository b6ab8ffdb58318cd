package bitcoin

import (
	"context"
	"fmt"

	"github.com/djkazic/p2pool-go/internal/fanin"
)

// NodeStatus is a snapshot of the backing node's chain tip, gathered from
// two independent RPC calls issued concurrently.
type NodeStatus struct {
	Height      int64
	BestHash    string
	HeightErr   error
	BestHashErr error
}

// FetchNodeStatus issues getblockcount and getbestblockhash concurrently and
// joins both results before returning, used at startup and on reconnect to
// avoid paying two RPC round trips in sequence.
func FetchNodeStatus(ctx context.Context, rpc BitcoinRPC) NodeStatus {
	type result struct {
		height    int64
		hash      string
		heightErr error
		hashErr   error
	}

	tasks := []func() result{
		func() result {
			h, err := rpc.GetBlockCount(ctx)
			return result{height: h, heightErr: err}
		},
		func() result {
			h, err := rpc.GetBestBlockHash(ctx)
			return result{hash: h, hashErr: err}
		},
	}

	var status NodeStatus
	joined := make(chan struct{})
	fanin.JoinFuncs(tasks, func(results []result) {
		status.Height = results[0].height
		status.HeightErr = results[0].heightErr
		status.BestHash = results[1].hash
		status.BestHashErr = results[1].hashErr
		close(joined)
	})
	<-joined
	return status
}

// Err returns the first error encountered fetching either field, if any.
func (s NodeStatus) Err() error {
	if s.HeightErr != nil {
		return fmt.Errorf("getblockcount: %w", s.HeightErr)
	}
	if s.BestHashErr != nil {
		return fmt.Errorf("getbestblockhash: %w", s.BestHashErr)
	}
	return nil
}
