// Package tee implements the two channels the prover keeps open to a TEE
// proving backend: a JSON-RPC 2.0 WebSocket for the hello/attestation
// handshake and the encrypted submission, and a Socket.IO status
// subscription keyed by the session uuid.
package tee

import (
	"encoding/json"
	"fmt"

	"github.com/anchorageoss/selfprove-teeclient/crypto"
)

// JSON-RPC method names.
const (
	MethodHello  = "openpassport_hello"
	MethodSubmit = "openpassport_submit_request"
)

// Request ids.
const (
	HelloID  = 1
	SubmitID = 2
)

// ByteArray is a byte slice that travels as a JSON array of numbers.
type ByteArray []byte

// MarshalJSON encodes the bytes as an array of numbers.
func (b ByteArray) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i, c := range b {
		ints[i] = int(c)
	}
	return json.Marshal(ints)
}

// UnmarshalJSON accepts an array of numbers or a {"type":"Buffer","data":[...]}
// object.
func (b *ByteArray) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		var buf struct {
			Type string `json:"type"`
			Data []int  `json:"data"`
		}
		if err2 := json.Unmarshal(data, &buf); err2 != nil || buf.Type != "Buffer" {
			return fmt.Errorf("invalid byte array: %w", err)
		}
		ints = buf.Data
	}

	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("invalid byte value %d at index %d", v, i)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      int    `json:"id"`
	Params  any    `json:"params"`
}

// HelloParams carries the client key and the session uuid.
type HelloParams struct {
	UserPubkey ByteArray `json:"user_pubkey"`
	UUID       string    `json:"uuid"`
}

// SubmitParams carries the encrypted circuit inputs.
type SubmitParams struct {
	UUID       string    `json:"uuid"`
	Nonce      ByteArray `json:"nonce"`
	CipherText ByteArray `json:"cipher_text"`
	AuthTag    ByteArray `json:"auth_tag"`
}

// NewHello builds the hello request.
func NewHello(userPubkey []byte, uuid string) *Request {
	return &Request{
		JSONRPC: "2.0",
		Method:  MethodHello,
		ID:      HelloID,
		Params:  HelloParams{UserPubkey: userPubkey, UUID: uuid},
	}
}

// NewSubmit builds the submit request for a sealed payload.
func NewSubmit(uuid string, sealed *crypto.Sealed) *Request {
	return &Request{
		JSONRPC: "2.0",
		Method:  MethodSubmit,
		ID:      SubmitID,
		Params: SubmitParams{
			UUID:       uuid,
			Nonce:      sealed.Nonce,
			CipherText: sealed.CipherText,
			AuthTag:    sealed.AuthTag,
		},
	}
}

// Response is a server message on the request channel.
type Response struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      *int            `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// AttestationResult is the result of the hello request.
type AttestationResult struct {
	Attestation ByteArray `json:"attestation"`
	UUID        string    `json:"uuid"`
}

// MessageKind classifies a server message.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindAttestation
	KindAck
	KindError
)

// Message is a classified server message.
type Message struct {
	Kind        MessageKind
	Attestation *AttestationResult
	AckUUID     string
	Error       string
}

// ParseMessage decodes and classifies a request channel message.
func ParseMessage(data []byte) (*Message, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode server message: %w", err)
	}

	if len(resp.Error) > 0 && string(resp.Error) != "null" {
		return &Message{Kind: KindError, Error: errorText(resp.Error)}, nil
	}

	if len(resp.Result) == 0 {
		return &Message{Kind: KindUnknown}, nil
	}

	var att AttestationResult
	if err := json.Unmarshal(resp.Result, &att); err == nil && len(att.Attestation) > 0 {
		return &Message{Kind: KindAttestation, Attestation: &att}, nil
	}

	var ack string
	if err := json.Unmarshal(resp.Result, &ack); err == nil && resp.ID != nil && *resp.ID == SubmitID {
		return &Message{Kind: KindAck, AckUUID: ack}, nil
	}

	return &Message{Kind: KindUnknown}, nil
}

func errorText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

// Payload is the plaintext the TEE decrypts from a submit request.
type Payload struct {
	Type         string         `json:"type"`
	Onchain      bool           `json:"onchain"`
	EndpointType string         `json:"endpointType,omitempty"`
	Endpoint     string         `json:"endpoint,omitempty"`
	Circuit      PayloadCircuit `json:"circuit"`
}

// PayloadCircuit names the circuit and carries its JSON encoded inputs.
type PayloadCircuit struct {
	Name   string `json:"name"`
	Inputs string `json:"inputs"`
}
