package orders

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/merkadoph/merkado-backend/internal/cart"
	"github.com/merkadoph/merkado-backend/pkg/db/models"
	"github.com/merkadoph/merkado-backend/pkg/enums"
	pkgerrors "github.com/merkadoph/merkado-backend/pkg/errors"
	"github.com/merkadoph/merkado-backend/pkg/logger"
	"github.com/merkadoph/merkado-backend/pkg/metrics"
	"github.com/merkadoph/merkado-backend/pkg/redis"
)

const defaultClaimStaleAfter = 10 * time.Minute

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service materializes per-vendor orders from a succeeded pay-first payment.
type Service interface {
	Materialize(ctx context.Context, paymentID uuid.UUID) (*MaterializeResult, error)
	ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]models.Order, error)
}

// VendorOutcome records how one vendor group fared during a run.
type VendorOutcome struct {
	VendorID uuid.UUID  `json:"vendor_id"`
	OrderID  *uuid.UUID `json:"order_id,omitempty"`
	Created  bool       `json:"created"`
	Skipped  bool       `json:"skipped"`
	Error    string     `json:"error,omitempty"`
}

// MaterializeResult reports the orders tied to the payment after a run.
type MaterializeResult struct {
	PaymentID uuid.UUID       `json:"payment_id"`
	OrderIDs  []uuid.UUID     `json:"order_ids"`
	Complete  bool            `json:"complete"`
	Outcomes  []VendorOutcome `json:"outcomes,omitempty"`
}

type service struct {
	repo       Repository
	cartRepo   cart.Repository
	db         txRunner
	cache      redis.CacheInvalidator
	logger     *logger.Logger
	metrics    *metrics.SettlementMetrics
	staleAfter time.Duration
}

// Config carries the materializer tunables.
type Config struct {
	ClaimStaleAfter time.Duration
}

// NewService wires materializer dependencies. The cache invalidator may be
// nil; invalidation is best-effort.
func NewService(repo Repository, cartRepo cart.Repository, db txRunner, cache redis.CacheInvalidator, logg *logger.Logger, m *metrics.SettlementMetrics, cfg Config) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "orders repository required")
	}
	if cartRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "cart repository required")
	}
	if db == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "orders tx runner required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "orders logger required")
	}
	staleAfter := cfg.ClaimStaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultClaimStaleAfter
	}
	return &service{
		repo:       repo,
		cartRepo:   cartRepo,
		db:         db,
		cache:      cache,
		logger:     logg,
		metrics:    m,
		staleAfter: staleAfter,
	}, nil
}

func (s *service) ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]models.Order, error) {
	if paymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	list, err := s.repo.ListByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list orders")
	}
	return list, nil
}

// Materialize turns the payment's checkout snapshot into one order per vendor
// group. Exactly one concurrent caller holds the claim; losers observe either
// the finished order set or an in-progress conflict. Failed vendor groups are
// isolated and retried on the next run.
func (s *service) Materialize(ctx context.Context, paymentID uuid.UUID) (*MaterializeResult, error) {
	if paymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	ctx = s.logger.WithPaymentID(ctx, paymentID.String())

	payment, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if payment.Status != enums.PaymentStatusSucceeded {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("payment status %q cannot materialize orders", payment.Status))
	}
	if payment.OrdersCreated {
		return &MaterializeResult{PaymentID: paymentID, OrderIDs: payment.OrderIDs, Complete: true}, nil
	}

	staleBefore := time.Now().UTC().Add(-s.staleAfter)
	claimed, err := s.repo.ClaimPayment(ctx, paymentID, staleBefore)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim payment for materialization")
	}
	if !claimed {
		reloaded, err := s.repo.GetPayment(ctx, paymentID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload payment")
		}
		if reloaded.OrdersCreated {
			return &MaterializeResult{PaymentID: paymentID, OrderIDs: reloaded.OrderIDs, Complete: true}, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order materialization already in progress")
	}

	snapshot, err := payment.Snapshot()
	if err != nil {
		_ = s.repo.ReleaseClaim(ctx, paymentID, "invalid checkout snapshot")
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode checkout snapshot")
	}
	if snapshot == nil || len(snapshot.Items) == 0 {
		note := "no checkout items to materialize"
		_ = s.repo.ReleaseClaim(ctx, paymentID, note)
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, note)
	}

	existing, err := s.repo.ListByPaymentID(ctx, paymentID)
	if err != nil {
		_ = s.repo.ReleaseClaim(ctx, paymentID, "failed to list existing orders")
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list existing orders")
	}
	existingByVendor := make(map[uuid.UUID]uuid.UUID, len(existing))
	for _, order := range existing {
		existingByVendor[order.VendorID] = order.ID
	}

	groups := groupByVendor(snapshot.Items)
	result := &MaterializeResult{PaymentID: paymentID}
	var failures []string

	for _, group := range groups {
		if orderID, ok := existingByVendor[group.vendorID]; ok {
			id := orderID
			result.OrderIDs = append(result.OrderIDs, id)
			result.Outcomes = append(result.Outcomes, VendorOutcome{VendorID: group.vendorID, OrderID: &id, Created: false, Skipped: true})
			continue
		}

		order, err := s.createVendorOrder(ctx, payment, snapshot, group)
		if err != nil {
			s.metrics.IncMaterialization("failed")
			failures = append(failures, fmt.Sprintf("vendor %s: %v", group.vendorID, err))
			result.Outcomes = append(result.Outcomes, VendorOutcome{VendorID: group.vendorID, Error: err.Error()})
			s.logger.Error(s.logger.WithVendorID(ctx, group.vendorID.String()), "vendor order creation failed", err)
			continue
		}

		s.metrics.IncMaterialization("created")
		id := order.ID
		result.OrderIDs = append(result.OrderIDs, id)
		result.Outcomes = append(result.Outcomes, VendorOutcome{VendorID: group.vendorID, OrderID: &id, Created: true})
	}

	if len(result.OrderIDs) == 0 {
		note := "all vendor groups failed: " + strings.Join(failures, "; ")
		_ = s.repo.ReleaseClaim(ctx, paymentID, note)
		return result, pkgerrors.New(pkgerrors.CodeInternal, note)
	}

	if len(failures) > 0 {
		// Partial run: keep orders_created false so a later run retries the
		// failed subset; the note records which groups need recovery.
		note := "partial: " + strings.Join(failures, "; ")
		if err := s.repo.ReleaseClaim(ctx, paymentID, note); err != nil {
			return result, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release claim after partial run")
		}
		s.postMaterialize(ctx, payment, snapshot, result)
		return result, pkgerrors.New(pkgerrors.CodeDependency, note)
	}

	if err := s.repo.FinalizeOrders(ctx, paymentID, result.OrderIDs, nil); err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "finalize orders")
	}
	result.Complete = true
	s.postMaterialize(ctx, payment, snapshot, result)

	s.logger.Info(s.logger.WithField(ctx, "order_count", len(result.OrderIDs)), "orders materialized")
	return result, nil
}

type vendorGroup struct {
	vendorID uuid.UUID
	items    []models.CheckoutItem
}

func groupByVendor(items []models.CheckoutItem) []vendorGroup {
	byVendor := make(map[uuid.UUID][]models.CheckoutItem)
	for _, item := range items {
		byVendor[item.VendorID] = append(byVendor[item.VendorID], item)
	}

	groups := make([]vendorGroup, 0, len(byVendor))
	for vendorID, grouped := range byVendor {
		groups = append(groups, vendorGroup{vendorID: vendorID, items: grouped})
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].vendorID.String() < groups[j].vendorID.String()
	})
	return groups
}

func (s *service) createVendorOrder(ctx context.Context, payment *models.Payment, snapshot *models.CheckoutSnapshot, group vendorGroup) (*models.Order, error) {
	items, err := json.Marshal(group.items)
	if err != nil {
		return nil, fmt.Errorf("encode line items: %w", err)
	}

	var subtotal int64
	for _, item := range group.items {
		subtotal += item.UnitPriceCents * int64(item.Qty)
	}

	order := &models.Order{
		ID:             uuid.New(),
		PaymentID:      payment.ID,
		BuyerID:        snapshot.BuyerID,
		VendorID:       group.vendorID,
		SubtotalCents:  subtotal,
		Status:         enums.OrderStatusPaid,
		EscrowStatus:   enums.EscrowStatusHeld,
		TrackingNumber: newTrackingNumber(),
		Items:          items,
		ShippingAddr:   snapshot.ShippingAddress,
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).CreateOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// postMaterialize runs the best-effort follow-ups: cache invalidation and
// clearing purchased items from the buyer's cart. Failures are logged only.
func (s *service) postMaterialize(ctx context.Context, payment *models.Payment, snapshot *models.CheckoutSnapshot, result *MaterializeResult) {
	if s.cache != nil {
		keys := []string{
			s.cache.CacheKey("orders", "buyer", snapshot.BuyerID.String()),
			s.cache.CacheKey("payments", payment.ID.String()),
		}
		for _, outcome := range result.Outcomes {
			if outcome.Created {
				keys = append(keys, s.cache.CacheKey("orders", "vendor", outcome.VendorID.String()))
			}
		}
		if err := s.cache.Del(ctx, keys...); err != nil {
			s.logger.Warn(s.logger.WithField(ctx, "error", err.Error()), "order cache invalidation failed")
		}
	}

	var purchased []uuid.UUID
	created := make(map[uuid.UUID]bool)
	for _, outcome := range result.Outcomes {
		if outcome.Created || outcome.Skipped {
			created[outcome.VendorID] = true
		}
	}
	snapshotItems := snapshot.Items
	for _, item := range snapshotItems {
		if created[item.VendorID] {
			purchased = append(purchased, item.ProductID)
		}
	}
	if len(purchased) > 0 {
		if _, err := s.cartRepo.RemovePurchased(ctx, snapshot.BuyerID, purchased); err != nil {
			s.logger.Warn(s.logger.WithField(ctx, "error", err.Error()), "cart cleanup failed")
		}
	}
}

func newTrackingNumber() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("MK-%d", time.Now().UnixNano())
	}
	return "MK-" + strings.ToUpper(hex.EncodeToString(buf))
}
