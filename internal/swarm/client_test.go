package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/session-foundation/seshd/internal/sync"
)

// fakeConn answers each written request from a scripted handler, standing in
// for a storage node.
type fakeConn struct {
	handler func(Request) Response
	replies chan Response
	closed  bool
}

func newFakeConn(handler func(Request) Response) *fakeConn {
	return &fakeConn{handler: handler, replies: make(chan Response, 16)}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	if c.closed {
		return errors.New("connection closed")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	c.replies <- c.handler(req)
	return nil
}

func (c *fakeConn) ReadJSON(v interface{}) error {
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case resp := <-c.replies:
		raw, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, v)
	case <-time.After(time.Second):
		return errors.New("no response")
	}
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

// captureHandler records delivered pushes and can be told to reject them.
type captureHandler struct {
	got  []sync.Incoming
	fail error
}

func (h *captureHandler) HandleIncoming(in sync.Incoming) error {
	if h.fail != nil {
		return h.fail
	}
	h.got = append(h.got, in)
	return nil
}

func testClient(node func(Request) Response) (*Client, *captureHandler) {
	h := &captureHandler{}
	dial := func(_ context.Context, _ string) (Conn, error) {
		return newFakeConn(node), nil
	}
	return NewClient("ws://fake", "05me", dial, h, nil, time.Minute), h
}

func TestUploadSendsStoreRequest(t *testing.T) {
	var got Request
	c, _ := testClient(func(req Request) Response {
		got = req
		return Response{ID: req.ID}
	})

	err := c.Upload(context.Background(), "contacts", "05me", []byte("blob"), "hash123", 7)
	if err != nil {
		t.Fatal(err)
	}
	if got.Method != "store" {
		t.Errorf("method = %q, want store", got.Method)
	}
	var params StoreParams
	if err := json.Unmarshal(got.Params, &params); err != nil {
		t.Fatal(err)
	}
	if params.Variant != "contacts" || params.Hash != "hash123" || params.Seqno != 7 {
		t.Errorf("params = %+v", params)
	}
	if string(params.Blob) != "blob" {
		t.Errorf("blob = %q", params.Blob)
	}
}

func TestUploadSurfacesNodeError(t *testing.T) {
	c, _ := testClient(func(req Request) Response {
		return Response{ID: req.ID, Error: "quota exceeded"}
	})

	err := c.Upload(context.Background(), "contacts", "05me", []byte("b"), "h", 1)
	if err == nil || err.Error() != "swarm node error: quota exceeded" {
		t.Fatalf("err = %v", err)
	}
}

func TestPollDeliversIncoming(t *testing.T) {
	result, _ := json.Marshal(RetrieveResult{Messages: []StoredMessage{
		{Variant: "contacts", Owner: "05me", Blob: []byte("blob"), Hash: "h1"},
		{Variant: "bogus", Owner: "05me", Blob: []byte("x"), Hash: "h2"}, // skipped
	}})
	c, h := testClient(func(req Request) Response {
		if req.Method != "retrieve" {
			return Response{ID: req.ID, Error: "unexpected method"}
		}
		return Response{ID: req.ID, Result: result}
	})

	if err := c.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(h.got) != 1 {
		t.Fatalf("delivered = %+v, want only the known variant", h.got)
	}
	in := h.got[0]
	if in.Owner != "05me" || in.Hash != "h1" || string(in.Blob) != "blob" {
		t.Errorf("incoming = %+v", in)
	}
}

func TestPollAdvancesSinceCursor(t *testing.T) {
	var lastSince map[string]string
	result, _ := json.Marshal(RetrieveResult{Messages: []StoredMessage{
		{Variant: "contacts", Owner: "05me", Blob: []byte("b"), Hash: "h1"},
	}})
	c, _ := testClient(func(req Request) Response {
		var params RetrieveParams
		_ = json.Unmarshal(req.Params, &params)
		lastSince = params.Since
		return Response{ID: req.ID, Result: result}
	})

	if err := c.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(lastSince) != 0 {
		t.Errorf("first poll since = %v, want empty", lastSince)
	}

	if err := c.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if lastSince["contacts/05me"] != "h1" {
		t.Errorf("second poll since = %v, want cursor h1", lastSince)
	}
}

// TestPollRedeliversUnappliedBlob pins the retry contract: a blob whose
// merge fails must not advance the cursor, so the next poll pulls and
// applies it again.
func TestPollRedeliversUnappliedBlob(t *testing.T) {
	var lastSince map[string]string
	result, _ := json.Marshal(RetrieveResult{Messages: []StoredMessage{
		{Variant: "contacts", Owner: "05me", Blob: []byte("b"), Hash: "h1"},
	}})
	c, h := testClient(func(req Request) Response {
		var params RetrieveParams
		_ = json.Unmarshal(req.Params, &params)
		lastSince = params.Since
		return Response{ID: req.ID, Result: result}
	})

	h.fail = errors.New("reconcile aborted")
	if err := c.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.got) != 0 {
		t.Fatalf("delivered = %+v, want none while rejecting", h.got)
	}

	// The failure healed; the same blob comes back and applies.
	h.fail = nil
	if err := c.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(lastSince) != 0 {
		t.Errorf("since = %v, cursor must not advance past a rejected blob", lastSince)
	}
	if len(h.got) != 1 || h.got[0].Hash != "h1" {
		t.Fatalf("delivered = %+v, want the redelivered blob", h.got)
	}

	// Only now does the cursor move.
	if err := c.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if lastSince["contacts/05me"] != "h1" {
		t.Errorf("since = %v, want cursor h1 after the successful apply", lastSince)
	}
}

func TestRoundTripReconnectsAfterWriteFailure(t *testing.T) {
	dials := 0
	h := &captureHandler{}
	dial := func(_ context.Context, _ string) (Conn, error) {
		dials++
		if dials == 1 {
			// First connection dies on use.
			c := newFakeConn(nil)
			c.closed = true
			return c, nil
		}
		return newFakeConn(func(req Request) Response {
			return Response{ID: req.ID}
		}), nil
	}
	c := NewClient("ws://fake", "05me", dial, h, nil, time.Minute)

	if err := c.Upload(context.Background(), "contacts", "05me", []byte("b"), "h", 1); err != nil {
		t.Fatalf("upload should succeed after reconnect: %v", err)
	}
	if dials != 2 {
		t.Errorf("dials = %d, want 2", dials)
	}
}
