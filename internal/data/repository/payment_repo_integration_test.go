//go:build integration

package repository_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"carconnect-api/internal/data/entity"
	"carconnect-api/internal/data/repository"
	"carconnect-api/internal/testutil"
	"carconnect-api/pkg/apperror"
	"carconnect-api/pkg/database"
	"carconnect-api/pkg/utils"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

type PaymentRepoSuite struct {
	suite.Suite

	container *postgres.PostgresContainer
	db        database.PgxIface
	repo      repository.PaymentRepository
}

func TestPaymentRepoSuite(t *testing.T) {
	suite.Run(t, new(PaymentRepoSuite))
}

func (s *PaymentRepoSuite) SetupSuite() {
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("carconnect"),
		postgres.WithUsername("carconnect"),
		postgres.WithPassword("carconnect"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.Require().NoError(database.RunMigrations(connStr))

	db, err := database.InitDB(utils.DatabaseConfig{URL: connStr, MaxConns: 4})
	s.Require().NoError(err)
	s.db = db
	s.repo = repository.NewPaymentRepository(db, zap.NewNop())
}

func (s *PaymentRepoSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		s.NoError(s.container.Terminate(context.Background()))
	}
}

func (s *PaymentRepoSuite) SetupTest() {
	_, err := s.db.Exec(context.Background(), `TRUNCATE payments`)
	s.Require().NoError(err)
}

func (s *PaymentRepoSuite) TestCreateAndFind() {
	ctx := context.Background()
	p := testutil.NewPayment("CC-INT-1", entity.PaymentStatusPending, 5000)

	s.Require().NoError(s.repo.Create(ctx, p))

	got, err := s.repo.FindByReference(ctx, "CC-INT-1")
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(p.ID, got.ID)
	s.Equal(int64(5000), got.AmountMinor)
	s.Equal("GHS", got.Currency)
	s.JSONEq(string(p.Metadata), string(got.Metadata))

	missing, err := s.repo.FindByReference(ctx, "CC-INT-404")
	s.NoError(err)
	s.Nil(missing)
}

func (s *PaymentRepoSuite) TestCreateDuplicateReference() {
	ctx := context.Background()
	s.Require().NoError(s.repo.Create(ctx, testutil.NewPayment("CC-DUP", entity.PaymentStatusPending, 100)))

	err := s.repo.Create(ctx, testutil.NewPayment("CC-DUP", entity.PaymentStatusPending, 100))

	s.ErrorIs(err, apperror.ErrValidation)
}

func (s *PaymentRepoSuite) TestApplyTransitionIsConditional() {
	ctx := context.Background()
	s.Require().NoError(s.repo.Create(ctx, testutil.NewPayment("CC-T1", entity.PaymentStatusPending, 5000)))
	now := time.Now().UTC()

	completed, err := s.repo.ApplyTransition(ctx, entity.Transition{
		Reference:       "CC-T1",
		From:            entity.PaymentStatusPending,
		To:              entity.PaymentStatusCompleted,
		GatewayResponse: json.RawMessage(`{"status":"success","amount":5000}`),
		VerifiedAt:      &now,
	})
	s.Require().NoError(err)
	s.Require().NotNil(completed)
	s.Equal(entity.PaymentStatusCompleted, completed.Status)
	s.NotNil(completed.VerifiedAt)

	again, err := s.repo.ApplyTransition(ctx, entity.Transition{
		Reference: "CC-T1",
		From:      entity.PaymentStatusPending,
		To:        entity.PaymentStatusFailed,
	})
	s.NoError(err)
	s.Nil(again)

	stored, err := s.repo.FindByReference(ctx, "CC-T1")
	s.Require().NoError(err)
	s.Equal(entity.PaymentStatusCompleted, stored.Status)
}

func (s *PaymentRepoSuite) TestRefundMergesIntoGatewayResponse() {
	ctx := context.Background()
	s.Require().NoError(s.repo.Create(ctx, testutil.NewPayment("CC-R1", entity.PaymentStatusPending, 5000)))
	now := time.Now().UTC()

	_, err := s.repo.ApplyTransition(ctx, entity.Transition{
		Reference:       "CC-R1",
		From:            entity.PaymentStatusPending,
		To:              entity.PaymentStatusCompleted,
		GatewayResponse: json.RawMessage(`{"status":"success"}`),
		VerifiedAt:      &now,
	})
	s.Require().NoError(err)

	refunded, err := s.repo.ApplyTransition(ctx, entity.Transition{
		Reference:    "CC-R1",
		From:         entity.PaymentStatusCompleted,
		To:           entity.PaymentStatusRefunded,
		RefundRecord: json.RawMessage(`{"id":9,"status":"processed"}`),
		RefundedAt:   &now,
	})
	s.Require().NoError(err)
	s.Require().NotNil(refunded)
	s.NotNil(refunded.VerifiedAt)
	s.NotNil(refunded.RefundedAt)

	var doc map[string]json.RawMessage
	s.Require().NoError(json.Unmarshal(refunded.GatewayResponse, &doc))
	s.JSONEq(`"success"`, string(doc["status"]))
	s.JSONEq(`{"id":9,"status":"processed"}`, string(doc["refund"]))
}

func (s *PaymentRepoSuite) TestClaimRefundIsExclusive() {
	ctx := context.Background()
	s.Require().NoError(s.repo.Create(ctx, testutil.NewPayment("CC-C1", entity.PaymentStatusCompleted, 5000)))
	s.Require().NoError(s.repo.Create(ctx, testutil.NewPayment("CC-C2", entity.PaymentStatusPending, 5000)))

	claimed, err := s.repo.ClaimRefund(ctx, "CC-C1")
	s.Require().NoError(err)
	s.Require().NotNil(claimed)
	s.NotNil(claimed.RefundRequestedAt)

	again, err := s.repo.ClaimRefund(ctx, "CC-C1")
	s.NoError(err)
	s.Nil(again)

	pending, err := s.repo.ClaimRefund(ctx, "CC-C2")
	s.NoError(err)
	s.Nil(pending)

	s.Require().NoError(s.repo.ReleaseRefundClaim(ctx, "CC-C1"))
	stored, err := s.repo.FindByReference(ctx, "CC-C1")
	s.Require().NoError(err)
	s.Nil(stored.RefundRequestedAt)

	reclaimed, err := s.repo.ClaimRefund(ctx, "CC-C1")
	s.NoError(err)
	s.NotNil(reclaimed)
}

func (s *PaymentRepoSuite) TestRecordGatewayErrorKeepsStatus() {
	ctx := context.Background()
	s.Require().NoError(s.repo.Create(ctx, testutil.NewPayment("CC-E1", entity.PaymentStatusPending, 5000)))

	s.Require().NoError(s.repo.RecordGatewayError(ctx, "CC-E1", entity.PaymentStatusPending, json.RawMessage(`{"status_code":400}`)))

	stored, err := s.repo.FindByReference(ctx, "CC-E1")
	s.Require().NoError(err)
	s.Equal(entity.PaymentStatusPending, stored.Status)

	var doc map[string]json.RawMessage
	s.Require().NoError(json.Unmarshal(stored.GatewayResponse, &doc))
	s.JSONEq(`{"status_code":400}`, string(doc["last_error"]))
}

func (s *PaymentRepoSuite) TestListAndCount() {
	ctx := context.Background()
	for i, status := range []entity.PaymentStatus{
		entity.PaymentStatusPending,
		entity.PaymentStatusCompleted,
		entity.PaymentStatusCompleted,
	} {
		p := testutil.NewPayment("CC-L"+string(rune('A'+i)), status, int64(1000*(i+1)))
		p.CreatedAt = p.CreatedAt.Add(time.Duration(i) * time.Second)
		s.Require().NoError(s.repo.Create(ctx, p))
	}

	completed := entity.PaymentStatusCompleted
	page, err := s.repo.List(ctx, &completed, 1, 0)
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal("CC-LC", page[0].Reference)

	total, err := s.repo.Count(ctx, &completed)
	s.Require().NoError(err)
	s.Equal(int64(2), total)

	all, err := s.repo.Count(ctx, nil)
	s.Require().NoError(err)
	s.Equal(int64(3), all)
}
