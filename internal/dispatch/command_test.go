package dispatch

import (
	"strings"
	"testing"
	"time"

	"github.com/exafs/flowadmin/internal/model"
)

var testExpiry = time.Date(2015, 10, 15, 13, 30, 0, 0, time.UTC) // 1444915800

func TestFormatFlowspec(t *testing.T) {
	r := &model.Rule{
		Kind:       model.KindIPv4,
		Source:     "147.230.17.117",
		SourceMask: 32,
		Protocol:   "tcp",
		DestPort:   "80,443",
		Flags:      "syn ack",
		ActionID:   2,
		ExpiresAt:  testExpiry,
	}

	got := Format(r, true)
	want := "announce flow route source 147.230.17.117/32 protocol tcp destination-port 80,443 tcp-flags syn|ack then rate-limit 9600 expires 1444915800"
	if got != want {
		t.Errorf("Format =\n  %q\nwant\n  %q", got, want)
	}

	got = Format(r, false)
	want = "withdraw flow route source 147.230.17.117/32 protocol tcp destination-port 80,443 tcp-flags syn|ack then rate-limit 9600 expires 1444915800"
	if got != want {
		t.Errorf("Format(withdraw) =\n  %q\nwant\n  %q", got, want)
	}
}

func TestFormatRTBH(t *testing.T) {
	r := &model.Rule{
		Kind:      model.KindRTBH,
		Dest:      "185.91.162.5",
		DestMask:  32,
		Community: "65001:666",
		ExpiresAt: testExpiry,
	}

	got := Format(r, true)
	want := "announce route 185.91.162.5/32 next-hop 192.0.2.1 community [65001:666] expires 1444915800"
	if got != want {
		t.Errorf("Format =\n  %q\nwant\n  %q", got, want)
	}
}

func TestRoundTripFlowspec(t *testing.T) {
	orig := &model.Rule{
		Kind:         model.KindIPv4,
		Source:       "10.1.2.0",
		SourceMask:   24,
		SourcePort:   ">=1024",
		Dest:         "192.0.2.10",
		DestMask:     32,
		DestPort:     "53",
		Protocol:     "udp",
		PacketLength: "28-128",
		ActionID:     1,
		ExpiresAt:    testExpiry,
	}

	parsed, announce, err := Parse(Format(orig, true))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !announce {
		t.Error("expected announce")
	}

	if parsed.Kind != model.KindIPv4 {
		t.Errorf("kind = %q, want ipv4", parsed.Kind)
	}
	if parsed.Source != orig.Source || parsed.SourceMask != orig.SourceMask {
		t.Errorf("source = %s/%d, want %s/%d", parsed.Source, parsed.SourceMask, orig.Source, orig.SourceMask)
	}
	if parsed.Dest != orig.Dest || parsed.DestMask != orig.DestMask {
		t.Errorf("dest = %s/%d, want %s/%d", parsed.Dest, parsed.DestMask, orig.Dest, orig.DestMask)
	}
	if parsed.SourcePort != orig.SourcePort || parsed.DestPort != orig.DestPort {
		t.Errorf("ports = %q/%q, want %q/%q", parsed.SourcePort, parsed.DestPort, orig.SourcePort, orig.DestPort)
	}
	if parsed.Protocol != orig.Protocol {
		t.Errorf("protocol = %q, want %q", parsed.Protocol, orig.Protocol)
	}
	if parsed.PacketLength != orig.PacketLength {
		t.Errorf("packet_len = %q, want %q", parsed.PacketLength, orig.PacketLength)
	}
	if parsed.ActionID != orig.ActionID {
		t.Errorf("action = %d, want %d", parsed.ActionID, orig.ActionID)
	}
	if !parsed.ExpiresAt.Equal(orig.ExpiresAt) {
		t.Errorf("expires_at = %v, want %v", parsed.ExpiresAt, orig.ExpiresAt)
	}
}

func TestRoundTripFlags(t *testing.T) {
	orig := &model.Rule{
		Kind:       model.KindIPv4,
		Source:     "10.0.0.1",
		SourceMask: 32,
		Flags:      "syn ack fin",
		ActionID:   1,
		ExpiresAt:  testExpiry,
	}

	parsed, _, err := Parse(Format(orig, true))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Flags != "syn ack fin" {
		t.Errorf("flags = %q, want %q", parsed.Flags, "syn ack fin")
	}
}

func TestRoundTripIPv6(t *testing.T) {
	orig := &model.Rule{
		Kind:      model.KindIPv6,
		Dest:      "2001:db8::1",
		DestMask:  128,
		Protocol:  "tcp",
		ActionID:  3,
		ExpiresAt: testExpiry,
	}

	parsed, _, err := Parse(Format(orig, true))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Kind != model.KindIPv6 {
		t.Errorf("kind = %q, want ipv6 (inferred from address family)", parsed.Kind)
	}
	if parsed.Dest != "2001:db8::1" || parsed.DestMask != 128 {
		t.Errorf("dest = %s/%d, want 2001:db8::1/128", parsed.Dest, parsed.DestMask)
	}
}

func TestRoundTripRTBH(t *testing.T) {
	orig := &model.Rule{
		Kind:      model.KindRTBH,
		Dest:      "185.91.162.5",
		DestMask:  32,
		Community: "65001:666",
		ExpiresAt: testExpiry,
	}

	parsed, announce, err := Parse(Format(orig, false))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if announce {
		t.Error("expected withdraw")
	}
	if parsed.Kind != model.KindRTBH {
		t.Errorf("kind = %q, want rtbh", parsed.Kind)
	}
	if parsed.Dest != orig.Dest || parsed.DestMask != orig.DestMask {
		t.Errorf("dest = %s/%d, want %s/%d", parsed.Dest, parsed.DestMask, orig.Dest, orig.DestMask)
	}
	if parsed.Community != orig.Community {
		t.Errorf("community = %q, want %q", parsed.Community, orig.Community)
	}
	if !parsed.ExpiresAt.Equal(orig.ExpiresAt) {
		t.Errorf("expires_at = %v, want %v", parsed.ExpiresAt, orig.ExpiresAt)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"announce",
		"proclaim flow route source 10.0.0.1/32",
		"announce flow source 10.0.0.1/32",
		"announce flow route source 10.0.0.1",
		"announce flow route wibble 10.0.0.1/32",
		"announce flow route source 10.0.0.1/32 then teleport expires 1444915800",
		"announce flow route source 10.0.0.1/32 expires soon",
		"announce route 185.91.162.5/32 community",
	}
	for _, line := range bad {
		if _, _, err := Parse(line); err == nil {
			t.Errorf("Parse(%q): expected error", line)
		}
	}
}

func TestParseRejectsTruncatedAttribute(t *testing.T) {
	// Lines cut off mid-attribute must produce an error, never a panic.
	truncated := []string{
		"announce flow route protocol",
		"announce flow route source 10.0.0.1/32 source-port",
		"announce flow route source 10.0.0.1/32 destination-port",
		"announce flow route source 10.0.0.1/32 packet-length",
		"announce flow route source 10.0.0.1/32 tcp-flags",
		"announce flow route source 10.0.0.1/32 expires",
		"announce route 185.91.162.5/32 expires",
	}
	for _, line := range truncated {
		_, _, err := Parse(line)
		if err == nil {
			t.Errorf("Parse(%q): expected error", line)
			continue
		}
		if !strings.Contains(err.Error(), "missing") {
			t.Errorf("Parse(%q): err = %v, want missing-value error", line, err)
		}
	}
}
