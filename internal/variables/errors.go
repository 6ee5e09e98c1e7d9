package variables

import (
	"errors"

	"github.com/rendis/rigflow/pkg/schema"
)

func asFlowError(err error, target **schema.Error) bool {
	if err == nil {
		return false
	}
	return errors.As(err, target)
}
