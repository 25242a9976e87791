package store

import (
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"
)

// SQLite primary and extended result codes.
const (
	codeBusy             = 5
	codeLocked           = 6
	codeConstraintUnique = 2067
	codeConstraintPK     = 1555
)

// isBusy reports SQLITE_BUSY and SQLITE_LOCKED from either driver.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var me *sqlite.Error
	if errors.As(err, &me) {
		code := me.Code() & 0xff
		return code == codeBusy || code == codeLocked
	}
	var ce sqlite3.Error
	if errors.As(err, &ce) {
		return ce.Code == sqlite3.ErrBusy || ce.Code == sqlite3.ErrLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// isUniqueViolation reports a UNIQUE or PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var me *sqlite.Error
	if errors.As(err, &me) {
		return me.Code() == codeConstraintUnique || me.Code() == codeConstraintPK
	}
	var ce sqlite3.Error
	if errors.As(err, &ce) {
		return ce.ExtendedCode == sqlite3.ErrConstraintUnique || ce.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
