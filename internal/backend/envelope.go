package backend

import "github.com/matheus3301/chatsync/internal/chat"

// Envelope is the JSON body of every REST reply. Only the fields relevant to
// an endpoint are set.
type Envelope struct {
	Success     bool             `json:"success"`
	Message     string           `json:"message,omitempty"`
	MemberID    int64            `json:"member_idx,omitempty"`
	Rooms       []chat.Room      `json:"rooms,omitempty"`
	Messages    []chat.Message   `json:"messages,omitempty"`
	Attachment  *chat.Attachment `json:"attachment,omitempty"`
	UnreadCount *int             `json:"unread_count,omitempty"`
}

// ReportRequest is the body of a report call.
type ReportRequest struct {
	ReportContent string `json:"reportContent"`
}
