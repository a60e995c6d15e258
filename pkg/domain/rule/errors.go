package rule

import (
	"fmt"

	"github.com/openctemio/vulnsync/pkg/domain/shared"
)

// Rule construction errors. All of them wrap shared.ErrInvalidRule.
var (
	ErrUnknownKind         = fmt.Errorf("%w: unsupported type", shared.ErrInvalidRule)
	ErrUnsupportedOperator = fmt.Errorf("%w: operator not supported", shared.ErrInvalidRule)
	ErrValueRequired       = fmt.Errorf("%w: value required", shared.ErrInvalidRule)
	ErrParamsRequired      = fmt.Errorf("%w: params required", shared.ErrInvalidRule)
	ErrMinimumScoreRange   = fmt.Errorf("%w: 0<=minimumScore<=10 required", shared.ErrInvalidRule)
	ErrOperatorRequired    = fmt.Errorf("%w: operator required", shared.ErrInvalidRule)
)
