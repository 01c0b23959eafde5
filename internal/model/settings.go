package model

import (
	"time"

	"github.com/roach88/msgarchive/internal/jid"
)

// NoHistoryLimit disables retention cleanup for an account.
const NoHistoryLimit time.Duration = -1

// AccountSettings is the per-account configuration the store consults.
type AccountSettings struct {
	Name          string
	Address       jid.JID
	Active        bool
	HistoryMaxAge time.Duration
}
