package task

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var idMu sync.Mutex
var idLastSecond int64
var idCounter int

// NewID returns a sortable task id: a second-resolution timestamp prefix plus
// a per-second counter, unique within the process.
func NewID() string {
	idMu.Lock()
	defer idMu.Unlock()

	now := time.Now()
	sec := now.Unix()
	if sec != idLastSecond {
		idLastSecond = sec
		idCounter = 0
	}
	idCounter++
	return fmt.Sprintf("%s%04d", now.Format("060102150405"), idCounter)
}

// discordEpoch is the snowflake epoch (2015-01-01T00:00:00Z) in millis.
const discordEpoch = 1420070400000

// NewNonce returns a fresh correlation nonce shaped like a snowflake, with
// random low bits so two commands in the same millisecond do not collide.
func NewNonce() string {
	millis := time.Now().UnixMilli() - discordEpoch
	low := int64(uuid.New().ID()) & 0x3FFFFF
	return fmt.Sprintf("%d", millis<<22|low)
}
