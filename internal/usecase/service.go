package usecase

import (
	"carconnect-api/internal/data/repository"
	"carconnect-api/pkg/eventbus"
	"carconnect-api/pkg/utils"

	"go.uber.org/zap"
)

type Service struct {
	Payment PaymentService
	Webhook WebhookService
}

func NewService(repo *repository.Repository, gateway PaymentGateway, bus eventbus.Bus, config *utils.Config, log *zap.Logger) *Service {
	payment := NewPaymentService(repo.Payment, gateway, bus, config, log)

	return &Service{
		Payment: payment,
		Webhook: NewWebhookService(payment, log),
	}
}
