package cart

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/coupon"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/pricing"
	r "github.com/fjod/go_cart/storefront/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// maxMutationAttempts bounds the re-read-and-retry loop for item changes.
const maxMutationAttempts = 3

var errNoCart = errors.New("cart does not exist")

// View is a cart together with its freshly computed price.
// CouponIssue is set when the attached coupon no longer validates.
type View struct {
	Cart        *domain.Cart      `json:"cart"`
	Priced      domain.PricedCart `json:"priced"`
	CouponIssue string            `json:"coupon_issue,omitempty"`
}

type CartService struct {
	repo      r.CartRepository
	catalog   r.ProductCatalog
	cache     cache.CartCache
	validator *coupon.Validator
	currency  string
	now       func() time.Time
	logger    *zap.Logger
	sfg       singleflight.Group // Prevents cache stampede
}

func NewCartService(
	repo r.CartRepository,
	catalog r.ProductCatalog,
	cartCache cache.CartCache,
	validator *coupon.Validator,
	currency string,
	logger *zap.Logger,
) *CartService {
	return &CartService{
		repo:      repo,
		catalog:   catalog,
		cache:     cartCache,
		validator: validator,
		currency:  currency,
		now:       time.Now,
		logger:    logger,
	}
}

func (s *CartService) GetCart(ctx context.Context, userID int64) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("cache get error", zap.Int64("user_id", userID), zap.Error(err))
		}

		cart, err = s.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		if cart.Version > 0 {
			s.refreshCache(cart)
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart).Clone(), nil
}

// View prices the cart as it is now, re-checking the attached coupon.
func (s *CartService) View(ctx context.Context, userID int64) (*View, error) {
	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.price(ctx, cart)
}

func (s *CartService) AddItem(ctx context.Context, userID int64, productID int64, quantity int) (*View, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if errors.Is(err, r.ErrProductNotFound) {
		return nil, fmt.Errorf("product %d: %w", productID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}

	return s.mutate(ctx, userID, func(c *domain.Cart) error {
		return c.AddItem(domain.CartItem{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.PriceCents,
			Quantity:  quantity,
			AddedAt:   s.now(),
		})
	})
}

func (s *CartService) UpdateQuantity(ctx context.Context, userID int64, productID int64, quantity int) (*View, error) {
	if quantity < 1 || quantity > domain.MaxItemQuantity {
		return nil, &domain.ValidationError{Field: "quantity", Reason: "must be between 1 and 99"}
	}
	return s.mutate(ctx, userID, func(c *domain.Cart) error {
		if !c.UpdateQuantity(productID, quantity) {
			return fmt.Errorf("cart item %d: %w", productID, domain.ErrNotFound)
		}
		return nil
	})
}

func (s *CartService) RemoveItem(ctx context.Context, userID int64, productID int64) (*View, error) {
	return s.mutate(ctx, userID, func(c *domain.Cart) error {
		if !c.RemoveItem(productID) {
			return fmt.Errorf("cart item %d: %w", productID, domain.ErrNotFound)
		}
		return nil
	})
}

// ApplyCoupon validates the code against the current cart and attaches it.
// expectedVersion > 0 pins the cart version the caller priced against. Losing
// a race is reported as *domain.ConflictError and is not retried here.
func (s *CartService) ApplyCoupon(ctx context.Context, userID int64, code string, expectedVersion int64) (*View, error) {
	cart, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if expectedVersion > 0 && cart.Version != expectedVersion {
		return nil, cartConflict(userID)
	}

	c, err := s.validator.Validate(ctx, code, cart, userID, s.now())
	if err != nil {
		return nil, err
	}

	cart.CouponCode = c.Code
	if err := s.save(ctx, cart); err != nil {
		return nil, err
	}
	return &View{Cart: cart, Priced: pricing.Price(cart, c, s.currency)}, nil
}

func (s *CartService) RemoveCoupon(ctx context.Context, userID int64) (*View, error) {
	return s.mutate(ctx, userID, func(c *domain.Cart) error {
		c.CouponCode = ""
		return nil
	})
}

// CurrentCart reads the cart from the repository, bypassing the cache.
func (s *CartService) CurrentCart(ctx context.Context, userID int64) (*domain.Cart, error) {
	return s.load(ctx, userID)
}

// RemovePurchased takes the paid quantities out of the cart and drops the
// coupon the order used. Items added after checkout started stay. The cart is
// saved at a new version, never deleted, so versions only grow and a late
// cache write of the paid cart is refused.
func (s *CartService) RemovePurchased(ctx context.Context, userID int64, paid domain.PricedCart) error {
	_, err := s.mutate(ctx, userID, func(c *domain.Cart) error {
		if c.Version == 0 {
			return errNoCart
		}
		for _, item := range paid.Items {
			c.RemoveQuantity(item.ProductID, item.Quantity)
		}
		if paid.CouponCode != "" && c.CouponCode == paid.CouponCode {
			c.CouponCode = ""
		}
		return nil
	})
	if errors.Is(err, errNoCart) {
		return nil
	}
	return err
}

// mutate re-reads and retries on version conflicts so concurrent item
// changes never overwrite each other.
func (s *CartService) mutate(ctx context.Context, userID int64, change func(*domain.Cart) error) (*View, error) {
	var lastErr error
	for attempt := 0; attempt < maxMutationAttempts; attempt++ {
		cart, err := s.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := change(cart); err != nil {
			return nil, err
		}

		err = s.save(ctx, cart)
		if err == nil {
			return s.price(ctx, cart)
		}
		var conflict *domain.ConflictError
		if !errors.As(err, &conflict) {
			return nil, err
		}
		lastErr = err
		s.logger.Debug("cart version conflict, retrying", zap.Int64("user_id", userID), zap.Int("attempt", attempt+1))
	}
	return nil, lastErr
}

func (s *CartService) load(ctx context.Context, userID int64) (*domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if errors.Is(err, r.ErrCartNotFound) {
		return &domain.Cart{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	return cart, nil
}

func (s *CartService) save(ctx context.Context, cart *domain.Cart) error {
	err := s.repo.SaveCart(ctx, cart)
	if errors.Is(err, r.ErrVersionConflict) {
		s.invalidateCache(cart.UserID)
		return cartConflict(cart.UserID)
	}
	if err != nil {
		s.invalidateCache(cart.UserID)
		s.logger.Error("repo save cart error", zap.Int64("user_id", cart.UserID), zap.Error(err))
		return fmt.Errorf("save cart: %w", err)
	}
	s.refreshCache(cart)
	return nil
}

func (s *CartService) price(ctx context.Context, cart *domain.Cart) (*View, error) {
	view := &View{Cart: cart}
	if cart.CouponCode == "" {
		view.Priced = pricing.Price(cart, nil, s.currency)
		return view, nil
	}

	c, err := s.validator.Validate(ctx, cart.CouponCode, cart, cart.UserID, s.now())
	var couponErr *domain.CouponError
	switch {
	case errors.As(err, &couponErr):
		view.CouponIssue = string(couponErr.Kind)
		view.Priced = pricing.Price(cart, nil, s.currency)
	case err != nil:
		return nil, err
	default:
		view.Priced = pricing.Price(cart, c, s.currency)
	}
	return view, nil
}

// refreshCache writes the cart through. The cache keeps the highest version it
// has seen; on failure the entry is dropped so readers fall back to the repository.
func (s *CartService) refreshCache(cart *domain.Cart) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Set(ctx, cart); err != nil {
		s.logger.Warn("cache set error", zap.Int64("user_id", cart.UserID), zap.Error(err))
		s.invalidateCache(cart.UserID)
	}
}

func (s *CartService) invalidateCache(userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.Warn("cache invalidate error", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func cartConflict(userID int64) error {
	return &domain.ConflictError{Resource: "cart", ID: strconv.FormatInt(userID, 10)}
}
