package domain

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// ChatType represents the classified chat type
type ChatType string

const (
	ChatTypePrivate   ChatType = "PRIVATE"
	ChatTypeGroup     ChatType = "GROUP"
	ChatTypeChannel   ChatType = "CHANNEL"
	ChatTypeUndefined ChatType = "UNDEFINED"
)

// Chat represents a stored chat
type Chat struct {
	ID          int64
	Name        string
	Description string
	ChatTypeID  ChatType
	RawData     string
	RawDataHash string
	InsertDate  time.Time
	UpdateDate  time.Time
}

// SetRawData replaces the raw payload and recomputes its hash
func (c *Chat) SetRawData(raw string) {
	c.RawData = raw
	c.RawDataHash = HashRawData(raw)
}

// HashRawData returns the hex MD5 digest of a raw payload
func HashRawData(raw string) string {
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}
