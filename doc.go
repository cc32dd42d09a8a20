// Package x402 implements an HTTP-native pay-per-request authorization
// protocol built on the 402 Payment Required status code. A server challenges
// the client with a priced, nonce-bearing payment challenge; the client signs
// it with an EIP-712 structured-data signature and retries the request once
// with the proof attached in the X-PAYMENT header.
//
// The package provides the protocol core: challenge construction, the
// server-side verification pipeline (decode, expiry, signature recovery,
// replay protection) and the client-side retry state machine. Signature
// handling lives in the eip712 subpackage; framework adapters for gin and
// gRPC live in their own subpackages and consume the framework-independent
// Server.Check interceptor.
package x402
