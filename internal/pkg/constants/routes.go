package constants

// Static route constants
const (
	MediaRoute   = "/media"
	WebhookRoute = "/webhooks/stripe"
	PublicRoute  = "/"
)
