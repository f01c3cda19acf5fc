package coupon

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	r "github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	giftPrefix   = "GIFT"
	giftLetters  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	giftCodeSize = 6
)

type GiftConfig struct {
	Threshold int64
	Percent   decimal.Decimal
	Validity  time.Duration
}

type Service struct {
	repo      r.CouponRepository
	validator *Validator
	gift      GiftConfig
	logger    *zap.Logger
}

func NewService(repo r.CouponRepository, validator *Validator, gift GiftConfig, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		validator: validator,
		gift:      gift,
		logger:    logger,
	}
}

func (s *Service) Create(ctx context.Context, c *domain.Coupon) error {
	c.Code = domain.NormalizeCode(c.Code)
	if err := c.Validate(); err != nil {
		return err
	}
	c.Active = true
	c.UsedCount = 0
	if err := s.repo.CreateCoupon(ctx, c); err != nil {
		return fmt.Errorf("create coupon: %w", err)
	}
	return nil
}

// ListApplicable returns the user's own coupons that would validate against the cart now.
func (s *Service) ListApplicable(ctx context.Context, userID int64, cart *domain.Cart, now time.Time) ([]*domain.Coupon, error) {
	owned, err := s.repo.ListCouponsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user coupons: %w", err)
	}

	applicable := make([]*domain.Coupon, 0, len(owned))
	for _, c := range owned {
		if _, err := s.validator.Validate(ctx, c.Code, cart, userID, now); err != nil {
			continue
		}
		applicable = append(applicable, c)
	}
	return applicable, nil
}

// IssueGift gives the user a fresh single-use coupon when the paid total reaches
// the threshold. Earlier gift coupons of the user are deactivated first.
func (s *Service) IssueGift(ctx context.Context, userID int64, paidTotal int64, now time.Time) (*domain.Coupon, error) {
	if s.gift.Threshold <= 0 || paidTotal < s.gift.Threshold {
		return nil, nil
	}

	if err := s.repo.DeactivateUserCoupons(ctx, userID, giftPrefix); err != nil {
		return nil, fmt.Errorf("deactivate previous gifts: %w", err)
	}

	owner := userID
	gift := &domain.Coupon{
		Code:            giftCode(),
		DiscountPercent: s.gift.Percent,
		StartsAt:        now,
		EndsAt:          now.Add(s.gift.Validity),
		UsageLimit:      1,
		PerUserLimit:    1,
		Active:          true,
		OwnerUserID:     &owner,
		CreatedAt:       now,
	}
	if err := s.repo.CreateCoupon(ctx, gift); err != nil {
		return nil, fmt.Errorf("create gift coupon: %w", err)
	}

	s.logger.Info("gift coupon issued",
		zap.Int64("user_id", userID),
		zap.String("code", gift.Code),
		zap.Int64("paid_total", paidTotal))
	return gift, nil
}

func giftCode() string {
	b := make([]byte, giftCodeSize)
	for i := range b {
		b[i] = giftLetters[rand.IntN(len(giftLetters))]
	}
	return giftPrefix + string(b)
}
