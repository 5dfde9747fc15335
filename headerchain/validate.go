// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package headerchain

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// checkHeaderSanity checks the PoW and timestamp of a block header.  The
// difficulty retarget schedule is not replayed; the header's own target only
// has to lie below the network proof of work limit.
func (c *Chain) checkHeaderSanity(header *wire.BlockHeader) error {
	stubBlock := btcutil.NewBlock(&wire.MsgBlock{
		Header: *header,
	})
	err := blockchain.CheckProofOfWork(stubBlock, c.cfg.ChainParams.PowLimit)
	if err != nil {
		str := fmt.Sprintf("header %v fails proof of work check",
			header.BlockHash())
		return chainError(ErrInvalidPoW, str, err)
	}

	// Ensure the block time is not too far in the future.
	maxTimestamp := c.cfg.TimeSource().Add(c.cfg.MaxFutureBlockTime)
	if header.Timestamp.After(maxTimestamp) {
		str := fmt.Sprintf("block timestamp of %v is too far in the "+
			"future", header.Timestamp)
		return chainError(ErrFuturisticTimestamp, str, nil)
	}
	return nil
}
