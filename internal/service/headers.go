// Package service implements the forwarding logic of both relays.
package service

import (
	"net/http"

	"tote-relay/internal/model"
)

// cloneForwardable copies src without hop-by-hop headers. Host is dropped
// because the outbound URL decides it.
func cloneForwardable(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	for _, h := range model.HopByHopHeaders {
		dst.Del(h)
	}
	dst.Del("Host")
	return dst
}

// stripHopByHop removes connection-scoped headers from an upstream response in place.
func stripHopByHop(h http.Header) http.Header {
	for _, key := range model.HopByHopHeaders {
		h.Del(key)
	}
	return h
}
