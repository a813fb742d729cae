package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

const reincarnatedSuffix = "#reincarnated"

// ID is the address of the queue for one interface shard on node.
func ID(iface string, shard int, node string) string {
	return fmt.Sprintf("queue/%s/%d@%s", iface, shard, node)
}

// ReincarnationID is the address of the passive queue that serves a failed
// queue's persisted state.
func ReincarnationID(id string) string {
	return id + reincarnatedSuffix
}

// StateName is the blob holding the records of queue id. A reincarnation
// shares the state of the queue it replaces.
func StateName(id string) string {
	return strings.TrimSuffix(id, reincarnatedSuffix)
}

// Address is a parsed queue ID.
type Address struct {
	Interface    string
	Shard        int
	Node         string
	Reincarnated bool
}

// ParseID parses the output of ID or ReincarnationID.
func ParseID(id string) (Address, error) {
	var a Address
	rest, ok := strings.CutPrefix(id, "queue/")
	if !ok {
		return a, fmt.Errorf("invalid queue id %q", id)
	}
	rest, a.Reincarnated = strings.CutSuffix(rest, reincarnatedSuffix)

	at := strings.LastIndexByte(rest, '@')
	slash := strings.LastIndexByte(rest, '/')
	if at < 0 || slash < 0 || slash > at {
		return a, fmt.Errorf("invalid queue id %q", id)
	}
	shard, err := strconv.Atoi(rest[slash+1 : at])
	if err != nil {
		return a, fmt.Errorf("invalid queue id %q: %w", id, err)
	}
	a.Interface, a.Shard, a.Node = rest[:slash], shard, rest[at+1:]
	return a, nil
}
