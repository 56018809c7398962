package users

import (
	"context"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/sikulab/secauth/internal/errcode"
	"gorm.io/gorm"
)

// mapStorageError collapses raw database failures into the taxonomy so no
// caller ever sees a driver error.
func mapStorageError(err error) *errcode.Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errcode.ErrUserNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return errcode.ErrConnectionTimeout
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1062:
			return errcode.ErrDuplicateKey
		case 1452:
			return errcode.ErrForeignKeyConstraint
		}
		return errcode.ErrDatabase
	}
	return errcode.ErrDatabase
}

// mapDuplicateError attributes a MySQL duplicate-key failure to the colliding
// unique field, falling back to the generic storage mapping.
func mapDuplicateError(err error) *errcode.Error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		switch {
		case strings.Contains(mysqlErr.Message, IdxUserUsername):
			return errcode.ErrUsernameAlreadyExists
		case strings.Contains(mysqlErr.Message, IdxUserEmail):
			return errcode.ErrEmailAlreadyExists
		case strings.Contains(mysqlErr.Message, IdxUserPhone):
			return errcode.ErrPhoneAlreadyExists
		}
	}
	return mapStorageError(err)
}
