package redis

import (
	"errors"
	"fmt"

	"github.com/andr-235/fullstack-parser-sub002/internal/domain"
	"github.com/andr-235/fullstack-parser-sub002/internal/store"
	goredis "github.com/redis/go-redis/v9"
)

// MapError maps a go-redis error to the store sentinels. A missing key becomes
// store.ErrNotFound. Transaction conflicts and errors that are already
// classified are returned as is; anything else is an infrastructure failure.
func MapError(operation string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, goredis.Nil):
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	case errors.Is(err, goredis.TxFailedErr),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrCorruptRecord):
		return err
	default:
		return domain.NewStorageError(operation, err)
	}
}
