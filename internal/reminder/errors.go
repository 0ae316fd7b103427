package reminder

import "errors"

var ErrUnknownLeadTime = errors.New("unknown lead time")
