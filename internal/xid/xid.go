package xid

import (
	"github.com/google/uuid"
)

// New returns a prefixed random identifier such as "pjl-2f1c…".
func New(prefix string) string {
	id, err := uuid.NewRandom()
	if err != nil {
		return prefix + "-" + uuid.NewString()
	}
	return prefix + "-" + id.String()
}
