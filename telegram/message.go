package telegram

import (
	"fmt"
	"strings"
	"time"

	"evcs/internal"
	"evcs/models"
	"evcs/utility"
)

func bootMessage(event *internal.EventMessage) string {
	msg := fmt.Sprintf("*%s*: boot `%s`\n", sanitize(event.ChargePointId), event.Status)
	if event.Info != "" {
		msg += sanitize(event.Info) + "\n"
	}
	return msg
}

func failureMessage(event *internal.EventMessage) string {
	msg := fmt.Sprintf("*%s*: Connector %d: `%s`\n", sanitize(event.ChargePointId), event.ConnectorId, event.Status)
	msg += fmt.Sprintf("Error: `%s`\n", event.ErrorCode)
	if event.Info != "" {
		msg += sanitize(event.Info) + "\n"
	}
	return msg
}

func transactionStartMessage(event *internal.EventMessage) string {
	msg := fmt.Sprintf("*%s*: Connector %d\n", sanitize(event.ChargePointId), event.ConnectorId)
	msg += fmt.Sprintf("Transaction ID: %d START\n", event.TransactionId)
	msg += fmt.Sprintf("ID Tag: `%s` %s\n", event.IdTag, sanitize(event.Status))
	return msg
}

func transactionStopMessage(event *internal.EventMessage) string {
	msg := fmt.Sprintf("*%s*: Connector %d\n", sanitize(event.ChargePointId), event.ConnectorId)
	msg += fmt.Sprintf("Transaction ID: %d STOP\n", event.TransactionId)
	msg += fmt.Sprintf("ID Tag: `%s`\n", event.IdTag)
	msg += fmt.Sprintf("Consumed: %s\n", sanitize(utility.FormatEnergy(event.Consumed)))
	if event.Amount > 0 {
		msg += fmt.Sprintf("Amount: %s\n", sanitize(utility.FormatAmount(event.Amount)))
	}
	if event.Status != "" {
		msg += fmt.Sprintf("Reason: %s\n", sanitize(event.Status))
	}
	return msg
}

func violationMessage(event *internal.EventMessage) string {
	msg := fmt.Sprintf("*%s*: Connector %d CONSISTENCY WARNING\n", sanitize(event.ChargePointId), event.ConnectorId)
	msg += sanitize(event.Info) + "\n"
	return msg
}

func stationsStatus(chargePoints []*models.ChargePoint, now time.Time) string {
	var sb strings.Builder
	for _, cp := range chargePoints {
		seen := "never"
		if cp.LastHeartbeat != nil {
			seen = utility.TimeAgo(*cp.LastHeartbeat, now)
		}
		sb.WriteString(fmt.Sprintf("*%s*: `%s`\n", sanitize(cp.Id), cp.RegistrationStatus))
		sb.WriteString(fmt.Sprintf("last seen %s\n\n", sanitize(seen)))
	}
	return sb.String()
}

// sanitize escapes MarkdownV2 reserved characters
func sanitize(input string) string {
	const reservedChars = "\\`*_{}[]()#+-=.!|~>"
	var sb strings.Builder
	for _, char := range input {
		if strings.ContainsRune(reservedChars, char) {
			sb.WriteRune('\\')
		}
		sb.WriteRune(char)
	}
	return sb.String()
}
