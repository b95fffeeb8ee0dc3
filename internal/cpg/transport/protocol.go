// Package transport speaks the peer sync protocol over HTTP.
package transport

import (
	"golang.org/x/mod/semver"
)

// Endpoint paths, relative to the peer base URL.
const (
	PathToServer          = "/sync/to-server"
	PathFromServer        = "/sync/from-server"
	PathToServerViaJSON   = "/sync/to-server-via-json"
	PathFromServerViaJSON = "/sync/from-server-via-json"
)

// LastSyncParam is the query parameter of PathFromServer.
const LastSyncParam = "last-sync"

// SnapshotField is the multipart field carrying an uploaded snapshot.
const SnapshotField = "file"

// ProtocolHeader carries the protocol version of the sender.
const ProtocolHeader = "X-CPG-Protocol"

// ProtocolVersion is the version this build speaks.
const ProtocolVersion = "v1.1.0"

// Compatible reports whether a peer announcing version can exchange deltas
// with this build. Peers that do not announce a version are assumed
// compatible; otherwise the major versions must match.
func Compatible(version string) bool {
	if version == "" {
		return true
	}
	if version[0] != 'v' {
		version = "v" + version
	}
	if !semver.IsValid(version) {
		return false
	}
	return semver.Major(version) == semver.Major(ProtocolVersion)
}
