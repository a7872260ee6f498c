package handlers

import (
	"github.com/smith3v/tg-med-reminder/pkg/medications"
	"github.com/smith3v/tg-med-reminder/pkg/users"
)

var (
	medService *medications.Service
	userPolicy *users.Policy
)

// Init wires the services the handlers act on. It must run before the bot
// starts polling.
func Init(service *medications.Service, policy *users.Policy) {
	medService = service
	userPolicy = policy
}
