// Package streamrelay is a bounded-memory streaming relay node.
//
// A node generates deterministic content of any requested length, counts
// inbound streams and forwards one stream into another, each through a
// single fixed-size buffer per transfer. Transfers are exposed over
// HTTP/1.1 and HTTP/3 (package httpapi) and over a raw QUIC stream service
// (package session). Virtual and relayed transfers call an upstream node,
// which may be the node itself.
package streamrelay
