package upstream

import "github.com/avdeyev/gembridge/internal/domain"

// Turn is one role-tagged entry in the upstream-visible history. The wire
// role vocabulary differs from the local one: assistant maps to "model".
type Turn struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part carries a single text fragment of a turn.
type Part struct {
	Text string `json:"text"`
}

// BuildContents frames local history plus the new user message as ordered
// upstream turns. System messages are local-only annotations and are dropped;
// the new message is always appended as a final "user" turn.
func BuildContents(history []domain.Message, newMessage string) []Turn {
	turns := make([]Turn, 0, len(history)+1)
	for _, m := range history {
		var role string
		switch m.Role {
		case domain.RoleUser:
			role = "user"
		case domain.RoleAssistant:
			role = "model"
		default:
			continue
		}
		turns = append(turns, Turn{Role: role, Parts: []Part{{Text: m.Content}}})
	}
	return append(turns, Turn{Role: "user", Parts: []Part{{Text: newMessage}}})
}
