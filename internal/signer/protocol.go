package signer

import (
	"encoding/binary"
	"fmt"
	"time"

	"QuorumGate/internal/bls"
	"QuorumGate/internal/quorum"
)

// Message types of the attestation protocol.
const (
	msgTypeSignRequest = 0x01 // Request to sign a payload hash
	msgTypeSignature   = 0x02 // Signature share
	msgTypeRefusal     = 0x03 // Node declined to sign
)

// Message sizes.
const (
	requestSize   = 1 + 32 + 32 + 8 + 4
	signatureSize = 1 + 32 + bls.SignatureSize
	refusalSize   = 1 + 32 + 1
)

// RefusalReason says why a node declined a request.
type RefusalReason byte

const (
	// RefusalReplay: the request id was already signed.
	RefusalReplay RefusalReason = 0x01
	// RefusalExpired: the request deadline had passed on arrival.
	RefusalExpired RefusalReason = 0x02
	// RefusalPolicy: the node is configured not to sign.
	RefusalPolicy RefusalReason = 0x03
)

// String returns the reason name.
func (r RefusalReason) String() string {
	switch r {
	case RefusalReplay:
		return "replayed request"
	case RefusalExpired:
		return "deadline expired"
	case RefusalPolicy:
		return "policy refusal"
	default:
		return fmt.Sprintf("refusal(0x%02x)", byte(r))
	}
}

// EncodeRequest encodes a signing request.
// Format: [1B type] [32B payload hash] [32B request id] [8B deadline unix nanos] [4B attempt]
func EncodeRequest(req *quorum.SigningRequest) []byte {
	buf := make([]byte, requestSize)
	buf[0] = msgTypeSignRequest
	copy(buf[1:33], req.PayloadHash[:])
	copy(buf[33:65], req.RequestID[:])
	binary.BigEndian.PutUint64(buf[65:73], uint64(req.Deadline.UnixNano()))
	binary.BigEndian.PutUint32(buf[73:77], uint32(req.Attempt))

	return buf
}

// DecodeRequest decodes a signing request.
func DecodeRequest(data []byte) (*quorum.SigningRequest, error) {
	if len(data) != requestSize {
		return nil, fmt.Errorf("request size %d != %d", len(data), requestSize)
	}

	if data[0] != msgTypeSignRequest {
		return nil, fmt.Errorf("invalid message type: 0x%02x", data[0])
	}

	req := &quorum.SigningRequest{
		Deadline: time.Unix(0, int64(binary.BigEndian.Uint64(data[65:73]))),
		Attempt:  int(binary.BigEndian.Uint32(data[73:77])),
	}
	copy(req.PayloadHash[:], data[1:33])
	copy(req.RequestID[:], data[33:65])

	return req, nil
}

// Response is a decoded node answer: either a signature or a refusal.
type Response struct {
	RequestID quorum.RequestID
	Signature []byte        // Signature is nil for refusals
	Refusal   RefusalReason // Refusal is zero for signatures
}

// EncodeSignature encodes a signature response.
// Format: [1B type] [32B request id] [96B signature]
func EncodeSignature(id quorum.RequestID, sig []byte) []byte {
	buf := make([]byte, signatureSize)
	buf[0] = msgTypeSignature
	copy(buf[1:33], id[:])
	copy(buf[33:], sig)

	return buf
}

// EncodeRefusal encodes a refusal response.
// Format: [1B type] [32B request id] [1B reason]
func EncodeRefusal(id quorum.RequestID, reason RefusalReason) []byte {
	buf := make([]byte, refusalSize)
	buf[0] = msgTypeRefusal
	copy(buf[1:33], id[:])
	buf[33] = byte(reason)

	return buf
}

// DecodeResponse decodes a signature or refusal response.
func DecodeResponse(data []byte) (*Response, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty response")
	}

	resp := &Response{}

	switch data[0] {
	case msgTypeSignature:
		if len(data) != signatureSize {
			return nil, fmt.Errorf("signature response size %d != %d", len(data), signatureSize)
		}
		copy(resp.RequestID[:], data[1:33])
		resp.Signature = append([]byte(nil), data[33:]...)

	case msgTypeRefusal:
		if len(data) != refusalSize {
			return nil, fmt.Errorf("refusal response size %d != %d", len(data), refusalSize)
		}
		copy(resp.RequestID[:], data[1:33])
		resp.Refusal = RefusalReason(data[33])

	default:
		return nil, fmt.Errorf("invalid message type: 0x%02x", data[0])
	}

	return resp, nil
}
