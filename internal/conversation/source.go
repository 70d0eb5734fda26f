package conversation

import "strings"

// Source identifies where an inbound message came from.
type Source struct {
	Type    string `json:"type"`
	UserID  string `json:"user_id,omitempty"`
	GroupID string `json:"group_id,omitempty"`
	RoomID  string `json:"room_id,omitempty"`
}

// IDFromSource maps a message source to its conversation id: the user for
// one-to-one chats, the group or room otherwise. Unknown sources and missing
// identities yield ok=false.
func IDFromSource(src Source) (string, bool) {
	var id string
	switch strings.ToLower(strings.TrimSpace(src.Type)) {
	case "user":
		id = src.UserID
	case "group":
		id = src.GroupID
	case "room":
		id = src.RoomID
	default:
		return "", false
	}
	id = strings.TrimSpace(id)
	return id, id != ""
}
