package testutil

import (
	"fmt"

	"github.com/hupe1980/lumen/core"
)

// History returns n alternating user/assistant messages "msg 0", "msg 1", ...
func History(n int) []core.Message {
	out := make([]core.Message, n)
	for i := range out {
		role := core.RoleUser
		if i%2 == 1 {
			role = core.RoleAssistant
		}
		out[i] = core.Message{Role: role, Content: fmt.Sprintf("msg %d", i)}
	}
	return out
}
