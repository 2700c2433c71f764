// Package protocol implements the Dahua DHIP wire protocol.
//
// DHIP is the binary-framed JSON RPC protocol spoken by Dahua VTO door
// stations on TCP port 5000. Each message is a fixed 32-byte header followed
// by a UTF-8 JSON body.
//
// # Frame Format
//
//	[0-3]   0x20000000     Protocol marker (big-endian)
//	[4-7]   0x44484950     "DHIP" stream tag (big-endian)
//	[8-15]  0.0            Reserved, IEEE-754 double (big-endian)
//	[16-19] body length    Little-endian uint32
//	[20-23] 0              Reserved
//	[24-27] body length    Little-endian uint32 (duplicate)
//	[28-31] 0              Reserved
//	[32+]   body           JSON object, no padding
//
// # Decoding
//
// Reads from the device may carry partial frames or several frames at once.
// Decoder buffers the stream and frames it using the declared body length.
// VTO firmware occasionally emits NUL-padded or interleaved fragments, so
// anything that does not frame cleanly goes through ScanMessages, which splits
// on NUL bytes and parses each '{'...'}' span on its own. Fallbacks are logged
// and counted on the Decoder; a fragment that cannot be parsed is dropped,
// never fatal.
//
// # Usage Example
//
//	frame, err := protocol.Encode(&protocol.Request{
//	    ID:     2,
//	    Method: protocol.MethodLogin,
//	    Params: protocol.NewProbeLogin("admin"),
//	})
//
//	dec := protocol.NewDecoder()
//	for _, raw := range dec.Decode(chunk) {
//	    resp, err := protocol.ParseResponse(raw)
//	    ...
//	}
//
// # Authentication
//
// HashPassword derives the login token from the challenge returned by the
// anonymous global.login call:
//
//	passwordHash = MD5(username:realm:password)   uppercase hex
//	token        = MD5(username:random:passwordHash)
//
// # Thread Safety
//
// Encoding, hashing and ScanMessages are stateless. A Decoder holds buffered
// bytes and belongs to a single reader.
package protocol
