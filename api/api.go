// Package api provides the HTTP API for the donations backend.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.vocdoni.io/dvote/log"

	"github.com/commonsfund/donations-backend/stripe"
)

// Config holds the dependencies and settings of the API HTTP server.
type Config struct {
	Host      string
	Port      int
	Donations *stripe.Service
}

// API type represents the donations API HTTP server.
type API struct {
	host      string
	port      int
	donations *DonationHandlers
}

// New creates a new API HTTP server. It does not start the server. Use Start() for that.
func New(conf *Config) *API {
	if conf == nil {
		return nil
	}
	return &API{
		host:      conf.Host,
		port:      conf.Port,
		donations: NewDonationHandlers(conf.Donations),
	}
}

// Start starts the API HTTP server (non blocking).
func (a *API) Start() {
	go func() {
		if err := http.ListenAndServe(fmt.Sprintf("%s:%d", a.host, a.port), a.initRouter()); err != nil {
			log.Fatalf("failed to start the API server: %v", err)
		}
	}()
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() http.Handler {
	// Create the router with a basic middleware stack
	r := chi.NewRouter()
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Stripe-Signature"},
		AllowCredentials: false,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}).Handler)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Throttle(100))
	r.Use(middleware.Timeout(45 * time.Second))

	// public routes, the donation form is anonymous
	r.Group(func(r chi.Router) {
		// create the initial charge for a donation
		log.Infow("new route", "method", "POST", "path", donationIntentEndpoint)
		r.Post(donationIntentEndpoint, a.donations.CreateDonationIntent)
		// start a subscription from explicit customer/price/payment-method identifiers
		log.Infow("new route", "method", "POST", "path", donationSubscriptionEndpoint)
		r.Post(donationSubscriptionEndpoint, a.donations.CreateSubscription)
		// receive asynchronous events from Stripe
		log.Infow("new route", "method", "POST", "path", donationWebhookEndpoint)
		r.Post(donationWebhookEndpoint, a.donations.HandleWebhook)
	})

	return r
}
