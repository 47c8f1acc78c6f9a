// Package rule turns raw API payloads into validated, canonical rule records.
package rule

import (
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/exafs/flowadmin/internal/model"
)

// Payload is the wire form of a rule create request, shared by the JSON API
// and the form entry path. Numeric fields that arrive as form strings are
// converted before normalization.
type Payload struct {
	Action       int    `json:"action"`
	Protocol     string `json:"protocol"`
	Source       string `json:"source"`
	SourceMask   int    `json:"source_mask"`
	SourcePort   string `json:"source_port"`
	Dest         string `json:"dest"`
	DestMask     int    `json:"dest_mask"`
	DestPort     string `json:"dest_port"`
	PacketLength string `json:"packet_len"`
	Flags        string `json:"flags"`
	Community    string `json:"community"`
	// Expires is either absolute epoch seconds ("1444913400") or a
	// relative duration ("2h", "30m"), converted to an absolute time.
	Expires string `json:"expires"`
}

// ValidationError reports which payload fields were missing or malformed.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		names = append(names, f)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, f := range names {
		parts[i] = f + ": " + e.Fields[f]
	}
	return "invalid rule payload: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[field] = msg
}

// knownProtocols is the set of protocol keywords accepted in match fields.
var knownProtocols = map[string]bool{
	"tcp": true, "udp": true, "icmp": true,
}

// tcpFlagNames are the flag keywords accepted in the flags match field.
var tcpFlagNames = map[string]bool{
	"syn": true, "ack": true, "fin": true, "rst": true, "psh": true, "urg": true,
}

// Normalizer converts rule payloads into canonical records. The clock is
// injectable so expiration checks are deterministic in tests.
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer creates a Normalizer using the wall clock.
func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// NewNormalizerAt creates a Normalizer with a fixed clock.
func NewNormalizerAt(now func() time.Time) *Normalizer {
	return &Normalizer{now: now}
}

// Normalize validates p against the requirements of the given rule kind and
// returns a canonical Rule. The returned rule always has a strictly future
// expiration; all other outcomes are a *ValidationError.
func (n *Normalizer) Normalize(p Payload, kind model.RuleKind) (*model.Rule, error) {
	verr := &ValidationError{}

	if !kind.Valid() {
		verr.add("kind", "unrecognized rule kind")
		return nil, verr
	}

	r := &model.Rule{Kind: kind, State: model.StateActive}

	switch kind {
	case model.KindRTBH:
		n.normalizeRTBH(p, r, verr)
	default:
		n.normalizeFlowspec(p, r, kind, verr)
	}

	expires, err := n.parseExpires(p.Expires)
	if err != nil {
		verr.add("expires", err.Error())
	} else {
		r.ExpiresAt = expires
	}

	if len(verr.Fields) > 0 {
		return nil, verr
	}
	return r, nil
}

func (n *Normalizer) normalizeFlowspec(p Payload, r *model.Rule, kind model.RuleKind, verr *ValidationError) {
	if p.Source == "" && p.Dest == "" {
		verr.add("source", "at least one of source or dest is required")
	}

	if p.Source != "" {
		addr, mask, err := parsePrefix(p.Source, p.SourceMask, kind)
		if err != nil {
			verr.add("source", err.Error())
		} else {
			r.Source, r.SourceMask = addr, mask
		}
	}
	if p.Dest != "" {
		addr, mask, err := parsePrefix(p.Dest, p.DestMask, kind)
		if err != nil {
			verr.add("dest", err.Error())
		} else {
			r.Dest, r.DestMask = addr, mask
		}
	}

	if p.Protocol != "" {
		proto := strings.ToLower(strings.TrimSpace(p.Protocol))
		if !knownProtocols[proto] {
			verr.add("protocol", fmt.Sprintf("unrecognized protocol %q", p.Protocol))
		} else {
			r.Protocol = proto
		}
	}

	if spec, err := parsePortSpec(p.SourcePort); err != nil {
		verr.add("source_port", err.Error())
	} else {
		r.SourcePort = spec
	}
	if spec, err := parsePortSpec(p.DestPort); err != nil {
		verr.add("dest_port", err.Error())
	} else {
		r.DestPort = spec
	}

	if spec, err := parseLengthSpec(p.PacketLength); err != nil {
		verr.add("packet_len", err.Error())
	} else {
		r.PacketLength = spec
	}

	if flags, err := parseFlags(p.Flags); err != nil {
		verr.add("flags", err.Error())
	} else {
		r.Flags = flags
	}

	if _, ok := model.ActionByID(p.Action); !ok {
		verr.add("action", fmt.Sprintf("unknown action id %d", p.Action))
	} else {
		r.ActionID = p.Action
	}
}

// normalizeRTBH handles blackhole rules, which need only a destination
// address and a blackhole community.
func (n *Normalizer) normalizeRTBH(p Payload, r *model.Rule, verr *ValidationError) {
	if p.Dest == "" {
		verr.add("dest", "destination address is required for RTBH")
	} else {
		addr, err := netip.ParseAddr(p.Dest)
		if err != nil {
			verr.add("dest", "malformed address")
		} else {
			mask := p.DestMask
			full := 32
			if addr.Is6() {
				full = 128
			}
			if mask == 0 {
				mask = full
			}
			if mask < 0 || mask > full {
				verr.add("dest_mask", fmt.Sprintf("mask %d out of range 0-%d", mask, full))
			} else {
				r.Dest, r.DestMask = addr.String(), mask
			}
		}
	}

	if p.Community == "" {
		verr.add("community", "blackhole community is required for RTBH")
	} else if !validCommunity(p.Community) {
		verr.add("community", "community must be asn:value")
	} else {
		r.Community = p.Community
	}
}

func (n *Normalizer) parseExpires(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("expiration is required")
	}

	now := n.now()
	var t time.Time
	if epoch, err := strconv.ParseInt(raw, 10, 64); err == nil {
		t = time.Unix(epoch, 0)
	} else if d, derr := time.ParseDuration(raw); derr == nil {
		if d <= 0 {
			return time.Time{}, fmt.Errorf("duration must be positive")
		}
		t = now.Add(d)
	} else {
		return time.Time{}, fmt.Errorf("expected epoch seconds or duration, got %q", raw)
	}

	if !t.After(now) {
		return time.Time{}, fmt.Errorf("expiration %s is not in the future", t.UTC().Format(time.RFC3339))
	}
	return t.UTC(), nil
}

// parsePrefix validates an address and mask against the rule kind's family.
// A zero mask defaults to the host prefix length.
func parsePrefix(addrStr string, mask int, kind model.RuleKind) (string, int, error) {
	addr, err := netip.ParseAddr(addrStr)
	if err != nil {
		return "", 0, fmt.Errorf("malformed address %q", addrStr)
	}

	full := 32
	switch kind {
	case model.KindIPv4:
		if !addr.Is4() {
			return "", 0, fmt.Errorf("address %q is not IPv4", addrStr)
		}
	case model.KindIPv6:
		if !addr.Is6() || addr.Is4In6() {
			return "", 0, fmt.Errorf("address %q is not IPv6", addrStr)
		}
		full = 128
	}

	if mask == 0 {
		mask = full
	}
	if mask < 0 || mask > full {
		return "", 0, fmt.Errorf("mask %d out of range 0-%d", mask, full)
	}
	return addr.String(), mask, nil
}

// parsePortSpec validates a port match expression: a single port, a range
// "low-high", a comparison ">=n" / "<=n", or a comma-separated list of
// those terms. Empty input is allowed and means "any".
func parsePortSpec(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	terms := strings.Split(raw, ",")
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		norm, err := parseNumTerm(term, 65535)
		if err != nil {
			return "", fmt.Errorf("port %q: %w", term, err)
		}
		out = append(out, norm)
	}
	return strings.Join(out, ","), nil
}

// parseLengthSpec validates a packet length expression with the same grammar
// as ports but a 9000-byte ceiling.
func parseLengthSpec(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	terms := strings.Split(raw, ",")
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		norm, err := parseNumTerm(term, 9000)
		if err != nil {
			return "", fmt.Errorf("length %q: %w", term, err)
		}
		out = append(out, norm)
	}
	return strings.Join(out, ","), nil
}

func parseNumTerm(term string, max int) (string, error) {
	switch {
	case strings.HasPrefix(term, ">=") || strings.HasPrefix(term, "<="):
		op, rest := term[:2], term[2:]
		n, err := parseBounded(rest, max)
		if err != nil {
			return "", err
		}
		return op + strconv.Itoa(n), nil
	case strings.Contains(term, "-"):
		lo, hi, ok := strings.Cut(term, "-")
		if !ok {
			return "", fmt.Errorf("malformed range")
		}
		l, err := parseBounded(lo, max)
		if err != nil {
			return "", err
		}
		h, err := parseBounded(hi, max)
		if err != nil {
			return "", err
		}
		if l > h {
			return "", fmt.Errorf("range low %d exceeds high %d", l, h)
		}
		return fmt.Sprintf("%d-%d", l, h), nil
	default:
		n, err := parseBounded(term, max)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(n), nil
	}
}

func parseBounded(s string, max int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if n < 0 || n > max {
		return 0, fmt.Errorf("%d out of range 0-%d", n, max)
	}
	return n, nil
}

// parseFlags validates a TCP flag list separated by spaces or "|" and
// returns the canonical space-separated form.
func parseFlags(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	fields := strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool {
		return r == ' ' || r == '|'
	})
	for _, f := range fields {
		if !tcpFlagNames[f] {
			return "", fmt.Errorf("unrecognized TCP flag %q", f)
		}
	}
	return strings.Join(fields, " "), nil
}

func validCommunity(c string) bool {
	asn, val, ok := strings.Cut(c, ":")
	if !ok {
		return false
	}
	if _, err := strconv.ParseUint(asn, 10, 32); err != nil {
		return false
	}
	if _, err := strconv.ParseUint(val, 10, 32); err != nil {
		return false
	}
	return true
}
