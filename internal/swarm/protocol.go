package swarm

import "encoding/json"

// Request is one JSON frame sent to a storage node. ID correlates the
// response; the node echoes it back.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one JSON frame received from a storage node.
type Response struct {
	ID     string          `json:"id"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// StoreParams carries one serialized config push to the swarm.
type StoreParams struct {
	Variant string `json:"variant"`
	Owner   string `json:"owner"`
	Blob    []byte `json:"blob"`
	Hash    string `json:"hash"`
	Seqno   int64  `json:"seqno"`
}

// RetrieveParams asks for config blobs stored since the given hashes. Since
// maps "variant/owner" to the last blob hash this client has merged; the
// node only returns newer blobs for those namespaces.
type RetrieveParams struct {
	PubKey string            `json:"pubkey"`
	Since  map[string]string `json:"since,omitempty"`
}

// StoredMessage is one config blob returned by a retrieve.
type StoredMessage struct {
	Variant string `json:"variant"`
	Owner   string `json:"owner"`
	Blob    []byte `json:"blob"`
	Hash    string `json:"hash"`
}

// RetrieveResult is the payload of a retrieve response.
type RetrieveResult struct {
	Messages []StoredMessage `json:"messages"`
}
