package api

const (
	// donationIntentEndpoint creates the initial charge for a donation
	donationIntentEndpoint = "/donations/intent"
	// donationSubscriptionEndpoint starts a subscription from explicit identifiers
	donationSubscriptionEndpoint = "/donations/subscription"
	// donationWebhookEndpoint receives asynchronous Stripe events
	donationWebhookEndpoint = "/donations/webhook"
)
