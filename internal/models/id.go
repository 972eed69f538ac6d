package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type idKind uint8

const (
	idZero idKind = iota
	idTemp
	idServer
)

// tempPrefix namespaces temporary ids so they can never collide with a
// server id in any textual form (cache entries, gateway payloads).
const tempPrefix = "tmp:"

// ID identifies a message either by a client-generated temporary id or by
// the authoritative server-assigned id. The two are distinct kinds: a
// temporary id is scoped to the local sender and is never sent to the
// server, a server id is globally unique.
type ID struct {
	kind   idKind
	server int64
	temp   string
}

// TempID builds a sender-scoped temporary id from a monotonic counter.
func TempID(senderID int64, counter uint64) ID {
	return ID{kind: idTemp, temp: fmt.Sprintf("%s%d:%d", tempPrefix, senderID, counter)}
}

// ServerID wraps a server-assigned id.
func ServerID(n int64) ID {
	return ID{kind: idServer, server: n}
}

// ParseID parses the textual form produced by String.
func ParseID(s string) (ID, error) {
	if s == "" {
		return ID{}, nil
	}
	if strings.HasPrefix(s, tempPrefix) {
		return ID{kind: idTemp, temp: s}, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("invalid message id %q: %w", s, err)
	}
	return ServerID(n), nil
}

// IsTemp reports whether the id is a client-generated temporary id.
func (id ID) IsTemp() bool { return id.kind == idTemp }

// IsServer reports whether the id is a server-assigned id.
func (id ID) IsServer() bool { return id.kind == idServer }

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool { return id.kind == idZero }

// Server returns the numeric server id and whether the id holds one.
func (id ID) Server() (int64, bool) {
	if id.kind != idServer {
		return 0, false
	}
	return id.server, true
}

func (id ID) String() string {
	switch id.kind {
	case idTemp:
		return id.temp
	case idServer:
		return strconv.FormatInt(id.server, 10)
	default:
		return ""
	}
}

// MarshalJSON encodes the id in its textual form.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON accepts both the textual form and a bare server id number.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if numErr := json.Unmarshal(data, &n); numErr == nil {
			*id = ServerID(n)
			return nil
		}
		return err
	}
	parsed, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
