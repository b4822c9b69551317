package bus

import (
	"encoding/json"

	"go-user-directory/internal/domain"
)

// Message is the request envelope published on a pattern channel.
type Message struct {
	ID      string          `json:"id"`
	Pattern string          `json:"pattern"`
	Data    json.RawMessage `json:"data"`
}

// Reply is published on "<pattern>.reply". Exactly one of Response and Err is set.
type Reply struct {
	ID         string    `json:"id"`
	Response   any       `json:"response,omitempty"`
	Err        *ReplyErr `json:"err,omitempty"`
	IsDisposed bool      `json:"isDisposed"`
}

type ReplyErr struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// identityOf pulls the caller identity the upstream gateway attached to data.
func identityOf(data json.RawMessage) *domain.Identity {
	if len(data) == 0 {
		return nil
	}
	var env struct {
		Identity *domain.Identity `json:"identity"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil
	}
	return env.Identity
}

func ReplyChannel(pattern string) string { return pattern + ".reply" }
