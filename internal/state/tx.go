package state

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"

	"gorm.io/gorm"
)

// withTx runs fn in a transaction. A transient connection failure rolls
// back and retries up to txAttempts times; any other error is returned as is.
func (s *GormStore) withTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= s.txAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(fn)
		if err == nil || !isTransient(err) || ctx.Err() != nil {
			return err
		}
		if attempt < s.txAttempts {
			s.logger.Warn("transaction failed, retrying",
				"attempt", attempt,
				"max_attempts", s.txAttempts,
				"error", err,
			)
		}
	}
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "server closed the connection")
}
