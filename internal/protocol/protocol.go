// Package protocol implements the Pod application-layer protocol: command
// framing, multi-fragment message reassembly, the smart-peek early-abort
// heuristic, and the transfer liveness watchdog.
//
// The protocol rides on an MTU-limited notification channel. A logical
// message is split into fragments; the first fragment carries a message
// type tag (byte 0) and the total fragment count (bytes 5-8, little
// endian), with payload from byte 9. Continuation fragments carry payload
// from byte 5.
package protocol

import "strings"

// GATT identifiers of the Pod firmware.
const (
	ServiceUUID    = "761993fb-ad28-4438-a7b0-6ab3f2e03816"
	NotifyCharUUID = "5e0c4072-ee4d-450d-90a5-a1fefdb84692"
	WriteCharUUID  = "fb4a9352-9bcd-4cc6-80e4-ae37d16ffbf1"
)

// Command and message tags.
const (
	// CmdReset clears the Pod's transmit buffers and aborts any transfer
	// in progress. Single-byte command.
	CmdReset byte = 0x08

	// CmdDownload requests a file transfer. Followed by DownloadSubtype
	// and a fixed-width filename field.
	CmdDownload byte = 0x06

	// DownloadSubtype selects the by-name download variant.
	DownloadSubtype byte = 0x20

	// MsgTypeRecording tags messages that carry recorded sample data.
	// Only these are eligible for smart peek.
	MsgTypeRecording byte = 0x03

	// SkipMarker is the synthetic single-byte payload emitted after a
	// cancelled download, telling the consumer to move to the next file.
	SkipMarker byte = 0xDA
)

// Wire sizes.
const (
	// MinFragmentSize is the smallest meaningful fragment. Anything
	// shorter is discarded.
	MinFragmentSize = 5

	// FirstFragmentHeaderSize is the minimum size of a message's first
	// fragment: type tag, 4 reserved bytes, and the LE32 fragment count.
	FirstFragmentHeaderSize = 9

	// FilenameFieldSize is the fixed width of the zero-padded filename
	// field in a download command.
	FilenameFieldSize = 32

	// DownloadCommandSize is the total download command frame size.
	DownloadCommandSize = 2 + FilenameFieldSize
)

// ResetCommand returns the clear-buffers command frame.
func ResetCommand() []byte {
	return []byte{CmdReset}
}

// CleanFilename normalizes a user-facing filename for the wire: an
// optional parenthetical suffix ("Log (copy)") and trailing spaces are
// stripped, and the result is truncated to the filename field width.
func CleanFilename(name string) string {
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimRight(name, " ")
	if len(name) > FilenameFieldSize {
		name = name[:FilenameFieldSize]
	}
	return name
}

// BuildDownloadCommand builds the 34-byte download request frame:
// CmdDownload, DownloadSubtype, then the cleaned filename zero-padded to
// FilenameFieldSize bytes.
func BuildDownloadCommand(filename string) []byte {
	cmd := make([]byte, DownloadCommandSize)
	cmd[0] = CmdDownload
	cmd[1] = DownloadSubtype
	copy(cmd[2:], CleanFilename(filename))
	return cmd
}
