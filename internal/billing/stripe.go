// Package billing owns the payment provider boundary: the Stripe
// management client (checkout sessions, end-of-period cancellation) and
// the webhook-driven subscription lifecycle handler.
package billing

import (
	"errors"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	stripeprice "github.com/stripe/stripe-go/v82/price"
	stripesub "github.com/stripe/stripe-go/v82/subscription"
)

// ErrPriceNotRecurring is returned when a checkout is attempted against
// a one-off price.
var ErrPriceNotRecurring = errors.New("price is not configured for recurring billing")

// Client wraps the Stripe management API. The Stripe calls are injected
// function fields so tests can run without the network.
type Client struct {
	baseURL string

	createCheckoutSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	getPrice              func(id string, params *stripe.PriceParams) (*stripe.Price, error)
	updateSubscription    func(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

// NewClient configures the Stripe SDK and returns a management client.
// baseURL is where checkout redirects land (the web app origin).
func NewClient(apiKey, baseURL string) *Client {
	stripe.Key = strings.TrimSpace(apiKey)
	return &Client{
		baseURL:               strings.TrimRight(baseURL, "/"),
		createCheckoutSession: stripesession.New,
		getPrice:              stripeprice.Get,
		updateSubscription:    stripesub.Update,
	}
}

// CreateCheckoutSession starts a subscription checkout for a plan and
// returns the hosted checkout URL. The price is verified to be recurring
// first; userId and planName ride along as session metadata so the
// webhook can attribute the completed checkout.
func (c *Client) CreateCheckoutSession(priceID, planName, userID, userEmail string) (string, error) {
	price, err := c.getPrice(priceID, nil)
	if err != nil {
		return "", fmt.Errorf("retrieve price %s: %w", priceID, err)
	}
	if price.Type != stripe.PriceTypeRecurring {
		return "", ErrPriceNotRecurring
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(c.baseURL + "/app?success=true&session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(c.baseURL + "/pricing?canceled=true"),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"userId":   userID,
			"planName": planName,
		},
		BillingAddressCollection: stripe.String("auto"),
		AllowPromotionCodes:      stripe.Bool(true),
	}
	if userEmail != "" {
		params.CustomerEmail = stripe.String(userEmail)
	}

	session, err := c.createCheckoutSession(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return "", fmt.Errorf("stripe returned empty checkout URL")
	}
	return session.URL, nil
}

// CancelAtPeriodEnd schedules a subscription to lapse at the end of the
// current billing period. The subscription stays active until then.
func (c *Client) CancelAtPeriodEnd(subscriptionID string) error {
	_, err := c.updateSubscription(subscriptionID, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("cancel subscription %s: %w", subscriptionID, err)
	}
	return nil
}
