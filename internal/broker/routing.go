package broker

import (
	"strings"

	"github.com/alfredjeanlab/chatd/internal/model"
)

// tokenReplacer neutralizes characters that are significant in NATS subjects.
var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

// token sanitizes one routing-key segment. Empty segments become "_" so the
// key keeps its arity.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return tokenReplacer.Replace(s)
}

// EventRoutingKey returns "{entityType}.{action}.{tenantId}".
func EventRoutingKey(e *model.Event) string {
	return token(e.EntityType) + "." + token(e.EventType.Action()) + "." + token(e.TenantID)
}

// UpdateRoutingKey returns
// "update.{category}.{recipientUserType}.{recipientUserId}.{updateTypeLowercase}".
func UpdateRoutingKey(u *model.Update) string {
	t := u.Type()
	userType := u.UserType
	if userType == "" {
		userType = model.DefaultUserType
	}
	return "update." + t.Category() + "." + token(userType) + "." + token(u.UserID) + "." + token(strings.ToLower(t.String()))
}

// UserBindingPattern returns the wildcard routing key matching every update
// addressed to one recipient, across categories and update types.
func UserBindingPattern(userType, userID string) string {
	if userType == "" {
		userType = model.DefaultUserType
	}
	return "update.*." + token(userType) + "." + token(userID) + ".*"
}

// Subject joins an exchange name and a routing key into a NATS subject.
func Subject(exchange, routingKey string) string {
	return exchange + "." + routingKey
}

// StreamName derives the JetStream stream name backing an exchange:
// "chat.updates" becomes "CHAT_UPDATES".
func StreamName(exchange string) string {
	r := strings.NewReplacer(".", "_", "-", "_", "*", "_", ">", "_", " ", "_")
	return strings.ToUpper(r.Replace(exchange))
}
