package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// inboxQueries хранит отметки об обработанных сообщениях брокера.
// Потребители откладывают отметку в ту же транзакцию, что и эффект:
// повторная доставка после коммита упирается в уникальный индекс.
type inboxQueries struct {
	table string
}

// claimMessage возвращает false, если сообщение уже было обработано.
func (q inboxQueries) claimMessage(ctx context.Context, db Querier, messageID, source string) (bool, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return false, fmt.Errorf("message id is required")
	}

	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (message_id, source, processed_at)
		VALUES ($1,$2,$3)
	`, q.table), messageID, source, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("claim message: %w", err)
	}
	return true, nil
}
