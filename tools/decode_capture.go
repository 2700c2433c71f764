//go:build ignore

// Decode_capture replays a raw DHIP byte stream through the frame decoder
// and reports what it finds. Feed it the TCP payload of a session with a
// VTO, e.g. exported from Wireshark with "Follow TCP Stream" as raw bytes.
//
// Usage:
//
//	go run tools/decode_capture.go capture.bin [chunk-size]
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/muurk/vtobridge/internal/protocol"
)

// Statistics tracks decoding results
type Statistics struct {
	Bytes     int
	Messages  int
	Requests  int
	Replies   int
	Notifies  int
	Errors    int
	Methods   map[string]int
	Fallbacks int
	Misses    int
	Leftover  int
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: decode_capture <capture.bin> [chunk-size]")
		os.Exit(2)
	}

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Replaying in small chunks exercises partial frame handling
	chunk := len(data)
	if len(os.Args) > 2 {
		if chunk, err = strconv.Atoi(os.Args[2]); err != nil || chunk < 1 {
			fmt.Fprintf(os.Stderr, "invalid chunk size %q\n", os.Args[2])
			os.Exit(2)
		}
	}

	stats := Statistics{Bytes: len(data), Methods: make(map[string]int)}
	dec := protocol.NewDecoder()

	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		for _, raw := range dec.Decode(data[off:end]) {
			stats.Messages++
			describe(stats.Messages, raw, &stats)
		}
	}

	stats.Fallbacks = dec.Fallbacks
	stats.Misses = dec.Misses
	stats.Leftover = dec.Buffered()
	printStatistics(stats)
}

func describe(n int, raw json.RawMessage, stats *Statistics) {
	resp, err := protocol.ParseResponse(raw)
	if err != nil {
		fmt.Printf("#%d unparseable: %v\n", n, err)
		return
	}

	id := "-"
	if resp.ID != nil {
		id = strconv.FormatInt(*resp.ID, 10)
	}

	switch {
	case resp.Method == protocol.MethodNotifyEventStream:
		stats.Notifies++
	case resp.Method != "":
		stats.Requests++
	default:
		stats.Replies++
	}
	if resp.Method != "" {
		stats.Methods[resp.Method]++
	}
	if resp.Error != nil {
		stats.Errors++
	}

	fmt.Printf("#%d id=%s session=%d method=%q %s\n", n, id, resp.Session, resp.Method, raw)
}

func printStatistics(s Statistics) {
	fmt.Println()
	fmt.Println("=== Summary ===")
	fmt.Printf("Bytes:      %d\n", s.Bytes)
	fmt.Printf("Messages:   %d (requests %d, replies %d, notifications %d)\n", s.Messages, s.Requests, s.Replies, s.Notifies)
	fmt.Printf("Errors:     %d\n", s.Errors)
	fmt.Printf("Fallbacks:  %d\n", s.Fallbacks)
	fmt.Printf("Misses:     %d\n", s.Misses)
	fmt.Printf("Leftover:   %d bytes\n", s.Leftover)
	if len(s.Methods) > 0 {
		fmt.Println("Methods:")
		for m, c := range s.Methods {
			fmt.Printf("  %-40s %d\n", m, c)
		}
	}
}
