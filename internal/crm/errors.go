package crm

import "errors"

// Lead and owner lookup errors.
var (
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrOwnerNotFound     = errors.New("owner not found")
)
