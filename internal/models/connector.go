package models

import "github.com/ethereum/go-ethereum/common"

// ReadRequest is what a connector needs to produce a Read phase payload
type ReadRequest struct {
	Task Task
	// WriteHash is the hash submitted in the Write phase, if any
	WriteHash *common.Hash
	// Gateway is the registered gateway of the task network, if any
	Gateway *common.Address
}

// ReadOutput carries the payload to sign along with the raw call output
// for view calls
type ReadOutput struct {
	Payload Payload
	Raw     []byte
}

// WriteRequest is what a connector needs to broadcast a transaction
type WriteRequest struct {
	Task      Task
	Signature []byte
	Gateway   *common.Address
	// ShardKey is the public key of the shard a gateway key update refers to
	ShardKey []byte
}
