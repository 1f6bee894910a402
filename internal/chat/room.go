package chat

import (
	"regexp"
	"time"
)

// Room is a two-party trainer/member chat channel.
type Room struct {
	ID          int64     `json:"room_idx"`
	Name        string    `json:"room_name"`
	TrainerID   int64     `json:"trainer_idx"`
	MemberID    int64     `json:"user_idx"`
	TrainerName string    `json:"trainer_name,omitempty"`
	MemberName  string    `json:"user_name,omitempty"`
	CreatedAt   time.Time `json:"room_regdate"`
}

// Peer returns the other party of the room for the given member.
func (r *Room) Peer(me int64) int64 {
	if r.TrainerID == me {
		return r.MemberID
	}
	return r.TrainerID
}

var consultName = regexp.MustCompile(`^(.+)님과의 상담$`)

// DisplayName renders the room title from the viewpoint of me. Trainers see
// the member side; members see the trainer name.
func (r *Room) DisplayName(me int64) string {
	isTrainer := r.TrainerID == me
	if isTrainer {
		if r.MemberName != "" {
			return r.MemberName + "님과의 상담"
		}
		return "회원님과의 상담"
	}
	if r.TrainerName != "" {
		return r.TrainerName + "님과의 상담"
	}
	if r.Name != "" {
		if m := consultName.FindStringSubmatch(r.Name); m != nil {
			return m[1] + "님과의 상담"
		}
		return r.Name
	}
	return "트레이너님과의 상담"
}
