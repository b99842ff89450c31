// Package xerrors defines the tagged error-kind taxonomy shared by every
// storage-core component, per the error handling design in spec.md §7.
package xerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can decide retry/recover behavior
// without string-matching messages.
type Kind int

const (
	KindUnknown Kind = iota

	// Generic
	KindInvalidParam
	KindOutOfMemory
	KindNotImplemented
	KindInterrupted
	KindSystem

	// Storage-side
	KindFileNotFound
	KindFileExists
	KindDiskFull
	KindInsufficientSpace
	KindChecksumMismatch
	KindInvalidOffset
	KindInvalidSize

	// Network-side
	KindNetwork
	KindConnectionLost
	KindConnectionRefused
	KindHostUnreachable
	KindNetworkDown
	KindAddressInUse

	// Cluster-side
	KindClusterNotReady
	KindNodeNotFound
	KindNodeUnreachable

	// Storage-entity
	KindStorageGeneric
	KindDeviceFailed
	KindDeviceNotFound
	KindVolumeNotFound
	KindVolumeExists
	KindVolumeBusy
	KindBlockNotFound
	KindBlockCorrupted

	// Replication-side
	KindReplicationGeneric
	KindReplicaNotFound
	KindReplicaOutdated
	KindSyncFailed
	KindNotEnoughReplicas

	// Framing
	KindProtocolGeneric
	KindMagicMismatch
	KindVersionUnsupported
	KindChecksumInvalid
	KindPayloadTooLarge
	KindMessageIncomplete

	// Thread-context
	KindThreadContext
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindInvalidParam:       "invalid-param",
	KindOutOfMemory:        "out-of-memory",
	KindNotImplemented:     "not-implemented",
	KindInterrupted:        "interrupted",
	KindSystem:             "system",
	KindFileNotFound:       "file-not-found",
	KindFileExists:         "file-exists",
	KindDiskFull:           "disk-full",
	KindInsufficientSpace:  "insufficient-space",
	KindChecksumMismatch:   "checksum-mismatch",
	KindInvalidOffset:      "invalid-offset",
	KindInvalidSize:        "invalid-size",
	KindNetwork:            "network",
	KindConnectionLost:     "connection-lost",
	KindConnectionRefused:  "connection-refused",
	KindHostUnreachable:    "host-unreachable",
	KindNetworkDown:        "network-down",
	KindAddressInUse:       "address-in-use",
	KindClusterNotReady:    "cluster-not-ready",
	KindNodeNotFound:       "node-not-found",
	KindNodeUnreachable:    "node-unreachable",
	KindStorageGeneric:     "storage-generic",
	KindDeviceFailed:       "device-failed",
	KindDeviceNotFound:     "device-not-found",
	KindVolumeNotFound:     "volume-not-found",
	KindVolumeExists:       "volume-exists",
	KindVolumeBusy:         "volume-busy",
	KindBlockNotFound:      "block-not-found",
	KindBlockCorrupted:     "block-corrupted",
	KindReplicationGeneric: "replication-generic",
	KindReplicaNotFound:    "replica-not-found",
	KindReplicaOutdated:    "replica-outdated",
	KindSyncFailed:         "sync-failed",
	KindNotEnoughReplicas:  "not-enough-replicas",
	KindProtocolGeneric:    "protocol-generic",
	KindMagicMismatch:      "magic-mismatch",
	KindVersionUnsupported: "version-unsupported",
	KindChecksumInvalid:    "checksum-invalid",
	KindPayloadTooLarge:    "payload-too-large",
	KindMessageIncomplete:  "message-incomplete",
	KindThreadContext:      "thread-context",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// recoverable kinds per spec.md §7: network, timeout/interrupted, busy,
// sync-failed, cluster-not-ready may be retried by the caller.
var recoverable = map[Kind]bool{
	KindNetwork:           true,
	KindConnectionLost:    true,
	KindConnectionRefused: true,
	KindHostUnreachable:   true,
	KindNetworkDown:       true,
	KindInterrupted:       true,
	KindVolumeBusy:        true,
	KindSyncFailed:        true,
	KindClusterNotReady:   true,
	KindNodeUnreachable:   true,
}

// Error is the concrete error type every storage-core API returns.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with the given kind and message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, msg string, cause error) error {
	if cause == nil {
		return New(kind, msg)
	}
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// KindOf extracts the Kind from err, or KindUnknown if err does not
// carry one (or is nil).
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Recoverable reports whether the caller may retry the operation that
// produced err, per spec.md §7's recoverable/fatal classification.
func Recoverable(err error) bool {
	return recoverable[KindOf(err)]
}
