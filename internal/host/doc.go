// Package host is a small TCP message server whose decode path is exposed as a
// patchable entry point, so the decode guard can govern it.
//
// Each accepted connection is a domain.Channel identified by a random UUID.
// Inbound data is a stream of frames, each a 4-byte big-endian length followed
// by that many bytes. A frame carries a sequence of sub-messages
// {type uint8, length uint16, payload}. Every frame is handed to the entry point
// named netchan.ProcessMessages; a false result ends the connection.
package host
