// Package dispatch forwards accepted rules to their enforcement backends:
// the ExaBGP command queue and the DDoS-protection REST API.
package dispatch

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/exafs/flowadmin/internal/model"
)

// BlackholeNextHop is the discard next-hop announced for RTBH routes.
const BlackholeNextHop = "192.0.2.1"

// Format serializes a rule into the single-line command consumed by the
// ExaBGP control channel. Parse is its inverse; the pair round-trips all
// match fields, the action, and the expiration.
func Format(r *model.Rule, announce bool) string {
	verb := "announce"
	if !announce {
		verb = "withdraw"
	}

	var b strings.Builder
	if r.Kind == model.KindRTBH {
		fmt.Fprintf(&b, "%s route %s/%d next-hop %s community [%s]",
			verb, r.Dest, r.DestMask, BlackholeNextHop, r.Community)
		fmt.Fprintf(&b, " expires %d", r.ExpiresAt.Unix())
		return b.String()
	}

	fmt.Fprintf(&b, "%s flow route", verb)
	if r.Source != "" {
		fmt.Fprintf(&b, " source %s/%d", r.Source, r.SourceMask)
	}
	if r.Dest != "" {
		fmt.Fprintf(&b, " destination %s/%d", r.Dest, r.DestMask)
	}
	if r.Protocol != "" {
		fmt.Fprintf(&b, " protocol %s", r.Protocol)
	}
	if r.SourcePort != "" {
		fmt.Fprintf(&b, " source-port %s", r.SourcePort)
	}
	if r.DestPort != "" {
		fmt.Fprintf(&b, " destination-port %s", r.DestPort)
	}
	if r.PacketLength != "" {
		fmt.Fprintf(&b, " packet-length %s", r.PacketLength)
	}
	if r.Flags != "" {
		fmt.Fprintf(&b, " tcp-flags %s", strings.ReplaceAll(r.Flags, " ", "|"))
	}
	if action, ok := model.ActionByID(r.ActionID); ok {
		fmt.Fprintf(&b, " then %s", action.Command)
	}
	fmt.Fprintf(&b, " expires %d", r.ExpiresAt.Unix())
	return b.String()
}

// Parse reconstructs a rule from a command line produced by Format. It
// returns the rule, whether the line is an announce, and an error for
// anything a conforming consumer would reject.
func Parse(line string) (*model.Rule, bool, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) < 2 {
		return nil, false, fmt.Errorf("command too short")
	}

	var announce bool
	switch fields[0] {
	case "announce":
		announce = true
	case "withdraw":
		announce = false
	default:
		return nil, false, fmt.Errorf("unknown verb %q", fields[0])
	}

	if fields[1] == "flow" {
		if len(fields) < 3 || fields[2] != "route" {
			return nil, false, fmt.Errorf("expected %q after %q", "route", "flow")
		}
		r, err := parseFlow(fields[3:])
		return r, announce, err
	}
	if fields[1] == "route" {
		r, err := parseRTBH(fields[2:])
		return r, announce, err
	}
	return nil, false, fmt.Errorf("unknown route form %q", fields[1])
}

func parseFlow(fields []string) (*model.Rule, error) {
	r := &model.Rule{}
	i := 0
	for i < len(fields) {
		key := fields[i]
		switch key {
		case "source", "destination":
			if i+1 >= len(fields) {
				return nil, fmt.Errorf("missing value for %q", key)
			}
			addr, mask, err := splitPrefix(fields[i+1])
			if err != nil {
				return nil, err
			}
			if key == "source" {
				r.Source, r.SourceMask = addr, mask
				if strings.Contains(addr, ":") {
					r.Kind = model.KindIPv6
				} else {
					r.Kind = model.KindIPv4
				}
			} else {
				r.Dest, r.DestMask = addr, mask
				if strings.Contains(addr, ":") {
					r.Kind = model.KindIPv6
				} else {
					r.Kind = model.KindIPv4
				}
			}
			i += 2
		case "protocol", "source-port", "destination-port", "packet-length", "tcp-flags":
			if i+1 >= len(fields) {
				return nil, fmt.Errorf("missing value for %q", key)
			}
			val := fields[i+1]
			switch key {
			case "protocol":
				r.Protocol = val
			case "source-port":
				r.SourcePort = val
			case "destination-port":
				r.DestPort = val
			case "packet-length":
				r.PacketLength = val
			case "tcp-flags":
				r.Flags = strings.ReplaceAll(val, "|", " ")
			}
			i += 2
		case "then":
			// The action command runs until the trailing expires marker.
			j := i + 1
			for j < len(fields) && fields[j] != "expires" {
				j++
			}
			cmd := strings.Join(fields[i+1:j], " ")
			id, err := actionIDByCommand(cmd)
			if err != nil {
				return nil, err
			}
			r.ActionID = id
			i = j
		case "expires":
			if i+1 >= len(fields) {
				return nil, fmt.Errorf("missing expiration")
			}
			epoch, err := strconv.ParseInt(fields[i+1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed expiration %q", fields[i+1])
			}
			r.ExpiresAt = unixUTC(epoch)
			i += 2
		default:
			return nil, fmt.Errorf("unknown match field %q", key)
		}
	}
	return r, nil
}

func parseRTBH(fields []string) (*model.Rule, error) {
	r := &model.Rule{Kind: model.KindRTBH}
	if len(fields) < 1 {
		return nil, fmt.Errorf("missing prefix")
	}
	addr, mask, err := splitPrefix(fields[0])
	if err != nil {
		return nil, err
	}
	r.Dest, r.DestMask = addr, mask

	i := 1
	for i < len(fields) {
		switch fields[i] {
		case "next-hop":
			i += 2 // fixed blackhole next-hop, not part of the record
		case "community":
			if i+1 >= len(fields) {
				return nil, fmt.Errorf("missing community value")
			}
			r.Community = strings.Trim(fields[i+1], "[]")
			i += 2
		case "expires":
			if i+1 >= len(fields) {
				return nil, fmt.Errorf("missing expiration")
			}
			epoch, err := strconv.ParseInt(fields[i+1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed expiration %q", fields[i+1])
			}
			r.ExpiresAt = unixUTC(epoch)
			i += 2
		default:
			return nil, fmt.Errorf("unknown attribute %q", fields[i])
		}
	}
	return r, nil
}

func splitPrefix(s string) (string, int, error) {
	addr, maskStr, ok := strings.Cut(s, "/")
	if !ok {
		return "", 0, fmt.Errorf("malformed prefix %q", s)
	}
	mask, err := strconv.Atoi(maskStr)
	if err != nil {
		return "", 0, fmt.Errorf("malformed mask in %q", s)
	}
	return addr, mask, nil
}

func unixUTC(epoch int64) time.Time {
	return time.Unix(epoch, 0).UTC()
}

func actionIDByCommand(cmd string) (int, error) {
	for _, a := range model.DefaultActions {
		if a.Command == cmd {
			return a.ID, nil
		}
	}
	return 0, fmt.Errorf("unknown action command %q", cmd)
}
