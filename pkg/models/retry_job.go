package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RetryJob represents a scheduled retry of a solver action on an intent
type RetryJob struct {
	IntentID    common.Hash
	Action      string
	RetryCount  int
	NextAttempt time.Time
	ErrorType   string // Type of error that caused the retry
}
