package submessage

import (
	"context"
	"fmt"

	"github.com/yogi2103/zulip/internal/models"
)

// MessageView is a message as returned to clients, with its submessages
// in creation order.
type MessageView struct {
	models.Message
	Submessages []models.SubMessage `json:"submessages"`
}

// MessageDicts loads the messages among ids that actorID can see and
// embeds their submessages. Submessages are fetched with a single batched
// query. Messages the actor cannot see are left out.
func (s *Service) MessageDicts(ctx context.Context, actorID int64, ids []int64) ([]MessageView, error) {
	msgs, err := s.store.GetMessages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	visible := make([]models.Message, 0, len(msgs))
	for _, msg := range msgs {
		ok, err := s.store.MessageVisibleTo(ctx, msg.ID, actorID)
		if err != nil {
			return nil, fmt.Errorf("check message access: %w", err)
		}
		if ok {
			visible = append(visible, msg)
		}
	}

	msgIDs := make([]int64, len(visible))
	for i, msg := range visible {
		msgIDs[i] = msg.ID
	}

	rows, err := s.store.GetSubMessageRows(ctx, msgIDs)
	if err != nil {
		return nil, fmt.Errorf("load submessages: %w", err)
	}
	byMessage := GroupByMessage(rows)

	views := make([]MessageView, len(visible))
	for i, msg := range visible {
		subs := byMessage[msg.ID]
		if subs == nil {
			subs = []models.SubMessage{}
		}
		views[i] = MessageView{Message: msg, Submessages: subs}
	}
	return views, nil
}

// GroupByMessage buckets rows by parent message, keeping their order.
func GroupByMessage(rows []models.SubMessage) map[int64][]models.SubMessage {
	out := make(map[int64][]models.SubMessage)
	for _, row := range rows {
		out[row.MessageID] = append(out[row.MessageID], row)
	}
	return out
}
