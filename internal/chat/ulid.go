package chat

import "github.com/rag4all/ragchat/internal/common"

// NewChatID returns a fresh ULID. ULIDs sort lexicographically by creation
// time, which the session list relies on.
func NewChatID() (string, error) {
	return common.NewULID()
}
